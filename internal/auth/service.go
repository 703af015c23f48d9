// Package auth implements accounts, sessions, tokens and role-based
// authorization over a durable store, a session registry and a token
// issuer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"authgrid.org/internal/ids"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
)

// TokenIssuer is the slice of the token subsystem the account service uses.
type TokenIssuer interface {
	IssuePair(ctx context.Context, userID, userAgent string) (token.Pair, error)
	Verify(tokenString, wantType string) (*token.Claims, error)
}

// SessionRegistry is the slice of the session subsystem the account service
// uses.
type SessionRegistry interface {
	Remove(ctx context.Context, userID, sessionID string) error
	InvalidateAll(ctx context.Context, userID string) error
	List(ctx context.Context, userID string) ([]session.Descriptor, error)
}

// MailSender delivers account lifecycle mail. Delivery is best effort; a
// failed send never fails the triggering operation.
type MailSender interface {
	SendVerification(ctx context.Context, to, name, verifyToken string) error
	SendPasswordReset(ctx context.Context, to, name, resetToken string) error
}

// Accounts implements registration, login and credential lifecycle flows.
type Accounts struct {
	store    Store
	rbac     *RBAC
	issuer   TokenIssuer
	sessions SessionRegistry
	mailer   MailSender
	resetTTL time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// AccountsOption configures the account service.
type AccountsOption func(*Accounts)

// WithResetTTL sets the password-reset token lifetime.
func WithResetTTL(d time.Duration) AccountsOption {
	return func(a *Accounts) {
		if d > 0 {
			a.resetTTL = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithMailer sets the outbound mail sender. Without one, verification and
// reset mail is skipped and logged.
func WithMailer(m MailSender) AccountsOption {
	return func(a *Accounts) { a.mailer = m }
}

// NewAccounts constructs the account service.
func NewAccounts(store Store, rbac *RBAC, issuer TokenIssuer, sessions SessionRegistry, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		store:    store,
		rbac:     rbac,
		issuer:   issuer,
		sessions: sessions,
		resetTTL: time.Hour,
		now:      time.Now,
		log:      obs.Component("accounts"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register creates a new account in unverified state, places it into the
// auth service's default role and mails a verification link. A duplicate
// email is a conflict.
func (a *Accounts) Register(ctx context.Context, email, password, firstName, lastName string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	verifyToken, err := newSecret(32)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:                ids.New(),
		PublicID:          uuid.NewString(),
		Email:             email,
		FirstName:         strings.TrimSpace(firstName),
		LastName:          strings.TrimSpace(lastName),
		Active:            true,
		VerificationToken: verifyToken,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}

	if err := a.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, fmt.Errorf("register %s: %w", email, err)
	}
	if err := a.rbac.EnsureMembership(ctx, user.ID, AuthServiceName); err != nil {
		a.log.Warn("default role assignment failed", "user_id", user.PublicID, "error", err)
	}

	a.sendMail(user, func(ctx context.Context) error {
		return a.mailer.SendVerification(ctx, user.Email, user.FirstName, verifyToken)
	})
	a.log.Info("user registered", "user_id", user.PublicID)
	return user, nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (a *Accounts) VerifyEmail(ctx context.Context, verifyToken string) error {
	if verifyToken == "" {
		return fmt.Errorf("%w: verification token is required", ErrInvalidInput)
	}
	user, err := a.store.Users(ctx).FindByVerificationToken(ctx, verifyToken)
	if err != nil {
		return err
	}
	if err := a.store.Users(ctx).MarkEmailVerified(ctx, user.ID); err != nil {
		return err
	}
	a.log.Info("email verified", "user_id", user.PublicID)
	return nil
}

// Login authenticates the credentials and issues a token pair. An unknown
// email and a wrong password are indistinguishable to the caller.
func (a *Accounts) Login(ctx context.Context, email, password, userAgent string) (*User, token.Pair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, token.Pair{}, ErrUnauthorized
	}
	user, err := a.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, token.Pair{}, ErrUnauthorized
	}
	if err != nil {
		return nil, token.Pair{}, err
	}
	if !user.CheckPassword(password) {
		return nil, token.Pair{}, ErrUnauthorized
	}
	if !user.Active {
		return nil, token.Pair{}, ErrAccountDisabled
	}
	if !user.EmailVerified {
		return nil, token.Pair{}, ErrEmailNotVerified
	}

	now := a.now()
	if err := a.store.Users(ctx).TouchLastLogin(ctx, user.ID, now); err != nil {
		a.log.Warn("last login update failed", "user_id", user.PublicID, "error", err)
	}
	user.LastLogin = now

	pair, err := a.issuer.IssuePair(ctx, user.PublicID, userAgent)
	if err != nil {
		return nil, token.Pair{}, err
	}
	a.log.Info("user logged in", "user_id", user.PublicID)
	return user, pair, nil
}

// Refresh exchanges a refresh token for a fresh pair, re-checking that the
// account is still active and verified.
func (a *Accounts) Refresh(ctx context.Context, refreshToken, userAgent string) (token.Pair, error) {
	claims, err := a.issuer.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := a.store.Users(ctx).FindByPublicID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return token.Pair{}, ErrUnauthorized
	}
	if err != nil {
		return token.Pair{}, err
	}
	if !user.Active {
		return token.Pair{}, ErrAccountDisabled
	}
	return a.issuer.IssuePair(ctx, user.PublicID, userAgent)
}

// Logout retires one session. Logging out an already-retired session
// succeeds.
func (a *Accounts) Logout(ctx context.Context, userPublicID, sessionID string) error {
	return a.sessions.Remove(ctx, userPublicID, sessionID)
}

// LogoutAll retires every session of the user.
func (a *Accounts) LogoutAll(ctx context.Context, userPublicID string) error {
	return a.sessions.InvalidateAll(ctx, userPublicID)
}

// Sessions lists the user's live sessions, oldest first.
func (a *Accounts) Sessions(ctx context.Context, userPublicID string) ([]session.Descriptor, error) {
	return a.sessions.List(ctx, userPublicID)
}

// RequestPasswordReset issues a reset token and mails it. An unknown email
// is deliberately reported as success so the endpoint cannot be used to
// probe which addresses have accounts.
func (a *Accounts) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil
	}
	user, err := a.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	resetToken, err := newSecret(32)
	if err != nil {
		return err
	}
	if err := a.store.Users(ctx).SetResetToken(ctx, user.ID, resetToken, a.now().Add(a.resetTTL)); err != nil {
		return err
	}
	a.sendMail(user, func(ctx context.Context) error {
		return a.mailer.SendPasswordReset(ctx, user.Email, user.FirstName, resetToken)
	})
	a.log.Info("password reset requested", "user_id", user.PublicID)
	return nil
}

// ResetPassword consumes a reset token and replaces the password. Every
// live session is retired afterwards; the reset token cannot be replayed.
func (a *Accounts) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" {
		return fmt.Errorf("%w: reset token is required", ErrInvalidInput)
	}
	user, err := a.store.Users(ctx).FindByResetToken(ctx, resetToken)
	if err != nil {
		return err
	}
	if !user.ResetExpires.IsZero() && a.now().After(user.ResetExpires) {
		return ErrTokenExpired
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := a.store.Users(ctx).SetPasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := a.sessions.InvalidateAll(ctx, user.PublicID); err != nil {
		a.log.Warn("session invalidation degraded", "user_id", user.PublicID, "error", err)
	}
	a.log.Info("password reset", "user_id", user.PublicID)
	return nil
}

// ChangePassword replaces the password after re-checking the current one,
// then retires every live session.
func (a *Accounts) ChangePassword(ctx context.Context, userPublicID, currentPassword, newPassword string) error {
	user, err := a.store.Users(ctx).FindByPublicID(ctx, userPublicID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(currentPassword) {
		return ErrUnauthorized
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := a.store.Users(ctx).SetPasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := a.sessions.InvalidateAll(ctx, user.PublicID); err != nil {
		a.log.Warn("session invalidation degraded", "user_id", user.PublicID, "error", err)
	}
	return nil
}

// GetUser resolves a user by public id.
func (a *Accounts) GetUser(ctx context.Context, publicID string) (*User, error) {
	return a.store.Users(ctx).FindByPublicID(ctx, publicID)
}

// SetUserActive toggles account activation. Deactivation retires every live
// session so issued tokens stop working immediately.
func (a *Accounts) SetUserActive(ctx context.Context, publicID string, active bool) error {
	user, err := a.store.Users(ctx).FindByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if err := a.store.Users(ctx).SetActive(ctx, user.ID, active); err != nil {
		return err
	}
	if !active {
		if err := a.sessions.InvalidateAll(ctx, user.PublicID); err != nil {
			a.log.Warn("session invalidation degraded", "user_id", user.PublicID, "error", err)
		}
	}
	return nil
}

// FindOrCreateByProvider resolves an externally authenticated identity to a
// local account: by provider subject first, then by email (linking the
// provider), creating a pre-verified account as a last resort.
func (a *Accounts) FindOrCreateByProvider(ctx context.Context, p Provider, subjectID, email, firstName, lastName string) (*User, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: provider subject id is required", ErrInvalidInput)
	}
	user, err := a.store.Users(ctx).FindByProvider(ctx, p, subjectID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err = a.store.Users(ctx).FindByEmail(ctx, email)
	if err == nil {
		if err := a.store.Users(ctx).LinkProvider(ctx, user.ID, p, subjectID); err != nil {
			return nil, err
		}
		p.SetSubjectID(user, subjectID)
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// The provider vouched for the address, so the account starts verified.
	user = &User{
		ID:            ids.New(),
		PublicID:      uuid.NewString(),
		Email:         email,
		FirstName:     strings.TrimSpace(firstName),
		LastName:      strings.TrimSpace(lastName),
		Active:        true,
		EmailVerified: true,
	}
	p.SetSubjectID(user, subjectID)
	if err := a.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	if err := a.rbac.EnsureMembership(ctx, user.ID, AuthServiceName); err != nil {
		a.log.Warn("default role assignment failed", "user_id", user.PublicID, "error", err)
	}
	a.log.Info("user created via provider", "user_id", user.PublicID, "provider", p.String())
	return user, nil
}

// sendMail runs one delivery in the background, detached from the request
// context, logging and counting failures.
func (a *Accounts) sendMail(user *User, send func(ctx context.Context) error) {
	if a.mailer == nil {
		a.log.Debug("mail sender not configured, skipping delivery", "user_id", user.PublicID)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := send(ctx); err != nil {
			obs.MailSendFailed()
			a.log.Error("mail delivery failed", "user_id", user.PublicID, "error", err)
		}
	}()
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
