package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authgrid.org/internal/ids"
	"authgrid.org/internal/obs"
)

// AppTokens manages machine-to-machine credentials. A token's secret is
// generated server-side and returned exactly once at creation; only a
// lookup by the full secret can authenticate with it afterwards.
type AppTokens struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// NewAppTokens constructs the app token service.
func NewAppTokens(store Store) *AppTokens {
	return &AppTokens{
		store: store,
		now:   time.Now,
		log:   obs.Component("apptokens"),
	}
}

// Create mints a token for the service. The returned AppToken carries the
// plaintext secret; callers must surface it immediately and never again.
// A zero ttl means the token does not expire.
func (t *AppTokens) Create(ctx context.Context, servicePublicID, name string, ttl time.Duration) (*AppToken, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: token name is required", ErrInvalidInput)
	}
	svc, err := t.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return nil, err
	}

	secret, err := newSecret(32)
	if err != nil {
		return nil, err
	}
	tok := &AppToken{
		ID:        ids.New(),
		ServiceID: svc.ID,
		Name:      name,
		Secret:    secret,
		Active:    true,
	}
	if ttl > 0 {
		tok.ExpiresAt = t.now().Add(ttl)
	}
	if err := t.store.AppTokens(ctx).Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("create app token %q: %w", name, err)
	}
	t.log.Info("app token created", "service", svc.Name, "token_id", tok.ID)
	return tok, nil
}

// Validate authenticates a presented secret and returns the token with its
// owning service. Unknown, revoked and expired secrets are all reported as
// unauthorized, indistinguishably.
func (t *AppTokens) Validate(ctx context.Context, secret string) (*AppToken, *Service, error) {
	if secret == "" {
		return nil, nil, ErrUnauthorized
	}
	tok, err := t.store.AppTokens(ctx).FindBySecret(ctx, secret)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}
	if !tok.Valid(t.now()) {
		return nil, nil, ErrUnauthorized
	}
	svc, err := t.store.Services(ctx).Find(ctx, tok.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	if !svc.Active {
		return nil, nil, ErrUnauthorized
	}
	if err := t.store.AppTokens(ctx).TouchLastUsed(ctx, tok.ID, t.now()); err != nil {
		t.log.Warn("last used update failed", "token_id", tok.ID, "error", err)
	}
	return tok, svc, nil
}

// List returns the service's tokens, secrets omitted.
func (t *AppTokens) List(ctx context.Context, servicePublicID string) ([]AppTokenView, error) {
	svc, err := t.store.Services(ctx).FindByPublicID(ctx, servicePublicID)
	if err != nil {
		return nil, err
	}
	toks, err := t.store.AppTokens(ctx).ListByService(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	out := make([]AppTokenView, 0, len(toks))
	for _, tok := range toks {
		out = append(out, tok.View(svc.PublicID))
	}
	return out, nil
}

// Revoke deactivates a token without deleting its record.
func (t *AppTokens) Revoke(ctx context.Context, tokenID string) error {
	if _, err := t.store.AppTokens(ctx).Find(ctx, tokenID); err != nil {
		return err
	}
	return t.store.AppTokens(ctx).SetActive(ctx, tokenID, false)
}

// Delete removes a token record entirely.
func (t *AppTokens) Delete(ctx context.Context, tokenID string) error {
	return t.store.AppTokens(ctx).Delete(ctx, tokenID)
}
