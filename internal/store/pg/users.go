package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authgrid.org/internal/auth"
)

type userStore Store

const userColumns = `
	id, public_id, email, password_hash, first_name, last_name,
	is_active, is_email_verified, verification_token,
	reset_token, reset_expires,
	google_id, microsoft_id, discord_id,
	last_login, created_at, updated_at`

func scanUser(row scanner) (*auth.User, error) {
	var (
		u                                auth.User
		passwordHash                     sql.NullString
		firstName, lastName              sql.NullString
		verifToken, resetToken           sql.NullString
		googleID, microsoftID, discordID sql.NullString
		resetExpires, lastLogin          sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.PublicID, &u.Email, &passwordHash, &firstName, &lastName,
		&u.Active, &u.EmailVerified, &verifToken,
		&resetToken, &resetExpires,
		&googleID, &microsoftID, &discordID,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.VerificationToken = verifToken.String
	u.ResetToken = resetToken.String
	u.GoogleID = googleID.String
	u.MicrosoftID = microsoftID.String
	u.DiscordID = discordID.String
	if resetExpires.Valid {
		u.ResetExpires = resetExpires.Time
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (
			id, public_id, email, password_hash, first_name, last_name,
			is_active, is_email_verified, verification_token,
			google_id, microsoft_id, discord_id
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID, u.PublicID, u.Email, nullIfEmpty(u.PasswordHash),
		nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName),
		u.Active, u.EmailVerified, nullIfEmpty(u.VerificationToken),
		nullIfEmpty(u.GoogleID), nullIfEmpty(u.MicrosoftID), nullIfEmpty(u.DiscordID))
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *userStore) findBy(ctx context.Context, where string, arg any) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where `+where, arg)
	return scanUser(row)
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *userStore) FindByPublicID(ctx context.Context, publicID string) (*auth.User, error) {
	return s.findBy(ctx, `public_id = $1`, publicID)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findBy(ctx, `email = $1`, email)
}

func (s *userStore) FindByVerificationToken(ctx context.Context, token string) (*auth.User, error) {
	if token == "" {
		return nil, auth.ErrNotFound
	}
	return s.findBy(ctx, `verification_token = $1`, token)
}

func (s *userStore) FindByResetToken(ctx context.Context, token string) (*auth.User, error) {
	if token == "" {
		return nil, auth.ErrNotFound
	}
	return s.findBy(ctx, `reset_token = $1`, token)
}

func (s *userStore) FindByProvider(ctx context.Context, p auth.Provider, subjectID string) (*auth.User, error) {
	if subjectID == "" {
		return nil, auth.ErrNotFound
	}
	col, err := providerColumn(p)
	if err != nil {
		return nil, err
	}
	return s.findBy(ctx, col+` = $1`, subjectID)
}

func (s *userStore) LinkProvider(ctx context.Context, userID string, p auth.Provider, subjectID string) error {
	col, err := providerColumn(p)
	if err != nil {
		return err
	}
	return s.exec(ctx, `update users set `+col+` = $1, updated_at = now() where id = $2`, subjectID, userID)
}

func (s *userStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.exec(ctx, `
		update users
		set is_email_verified = true, verification_token = null, updated_at = now()
		where id = $1
	`, userID)
}

func (s *userStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return s.exec(ctx, `
		update users
		set password_hash = $1, reset_token = null, reset_expires = null, updated_at = now()
		where id = $2
	`, hash, userID)
}

func (s *userStore) SetResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	return s.exec(ctx, `
		update users
		set reset_token = $1, reset_expires = $2, updated_at = now()
		where id = $3
	`, token, expires, userID)
}

func (s *userStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.exec(ctx, `update users set last_login = $1 where id = $2`, at, userID)
}

func (s *userStore) SetActive(ctx context.Context, userID string, active bool) error {
	return s.exec(ctx, `update users set is_active = $1, updated_at = now() where id = $2`, active, userID)
}

func (s *userStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// providerColumn maps the closed provider enum to its column. The switch is
// exhaustive; anything else is a programming error surfaced as invalid
// input rather than interpolated into SQL.
func providerColumn(p auth.Provider) (string, error) {
	switch p {
	case auth.ProviderGoogle:
		return "google_id", nil
	case auth.ProviderMicrosoft:
		return "microsoft_id", nil
	case auth.ProviderDiscord:
		return "discord_id", nil
	default:
		return "", auth.ErrInvalidInput
	}
}
