package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authgrid.org/internal/auth"
)

type appTokenStore Store

const appTokenColumns = `id, service_id, name, secret, is_active, expires_at, last_used, created_at`

func scanAppToken(row scanner) (*auth.AppToken, error) {
	var (
		tok                 auth.AppToken
		expiresAt, lastUsed sql.NullTime
	)
	err := row.Scan(&tok.ID, &tok.ServiceID, &tok.Name, &tok.Secret, &tok.Active, &expiresAt, &lastUsed, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		tok.ExpiresAt = expiresAt.Time
	}
	if lastUsed.Valid {
		tok.LastUsed = lastUsed.Time
	}
	return &tok, nil
}

func (s *appTokenStore) Create(ctx context.Context, tok *auth.AppToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into app_tokens (id, service_id, name, secret, is_active, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.ServiceID, tok.Name, tok.Secret, tok.Active, nullIfZero(tok.ExpiresAt))
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *appTokenStore) Find(ctx context.Context, id string) (*auth.AppToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+appTokenColumns+` from app_tokens where id = $1`, id)
	return scanAppToken(row)
}

func (s *appTokenStore) FindBySecret(ctx context.Context, secret string) (*auth.AppToken, error) {
	if secret == "" {
		return nil, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`select `+appTokenColumns+` from app_tokens where secret = $1`, secret)
	return scanAppToken(row)
}

func (s *appTokenStore) ListByService(ctx context.Context, serviceID string) ([]*auth.AppToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+appTokenColumns+` from app_tokens where service_id = $1 order by created_at`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var toks []*auth.AppToken
	for rows.Next() {
		tok, err := scanAppToken(rows)
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return toks, nil
}

func (s *appTokenStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `update app_tokens set is_active = $1 where id = $2`, active, id)
}

func (s *appTokenStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `update app_tokens set last_used = $1 where id = $2`, at, id)
}

func (s *appTokenStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `delete from app_tokens where id = $1`, id)
}

func (s *appTokenStore) exec(ctx context.Context, query string, args ...any) error {
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
