// Package token issues and verifies the signed access/refresh token pairs
// that carry authenticated identity between requests. Every pair is keyed
// by a session id that the session registry tracks, so revoking the
// session invalidates the pair before its signature expires.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authgrid.org/internal/obs"
)

// Token type claim values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrInvalid covers malformed, tampered and mis-signed tokens.
	ErrInvalid = errors.New("token: invalid")
	// ErrExpired is returned for structurally valid tokens past their expiry.
	ErrExpired = errors.New("token: expired")
	// ErrWrongType is returned when a refresh token is presented where an
	// access token is expected, or the other way around.
	ErrWrongType = errors.New("token: wrong token type")
)

// Claims is the payload carried by both token kinds. The registered ID
// claim (jti) doubles as the session id in the registry.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair is one issued access/refresh token pair.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"-"`
}

// SessionRegistry is the slice of the session registry the issuer needs.
type SessionRegistry interface {
	Add(ctx context.Context, userID, sessionID, userAgent string) error
	Remove(ctx context.Context, userID, sessionID string) error
}

// Issuer signs and verifies token pairs with a shared HMAC secret.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessions   SessionRegistry
	now        func() time.Time
	log        *slog.Logger
}

// Option configures Issuer behavior.
type Option func(*Issuer)

// WithIssuer sets the iss claim.
func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if name != "" {
			i.issuer = name
		}
	}
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.accessTTL = d
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.refreshTTL = d
		}
	}
}

// WithClock overrides the time source for expiry tests.
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// New constructs an Issuer. The session registry is optional; without one
// the issuer still signs pairs but nothing tracks them.
func New(secret []byte, sessions SessionRegistry, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	i := &Issuer{
		secret:     secret,
		issuer:     "authgrid",
		accessTTL:  time.Hour,
		refreshTTL: 720 * time.Hour,
		sessions:   sessions,
		now:        time.Now,
		log:        obs.Component("token"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssuePair mints a fresh access/refresh pair for the user and registers
// the session. Registration is best effort: a down session store degrades
// tracking but never blocks authentication.
func (i *Issuer) IssuePair(ctx context.Context, userID, userAgent string) (Pair, error) {
	now := i.now()
	sessionID := uuid.NewString()

	access, err := i.sign(TypeAccess, userID, sessionID, now, now.Add(i.accessTTL))
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(TypeRefresh, userID, sessionID, now, now.Add(i.refreshTTL))
	if err != nil {
		return Pair{}, err
	}

	if i.sessions != nil {
		if err := i.sessions.Add(ctx, userID, sessionID, userAgent); err != nil {
			i.log.Warn("session registration degraded", "user_id", userID, "error", err)
		}
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(i.accessTTL),
		RefreshExpiresAt: now.Add(i.refreshTTL),
		SessionID:        sessionID,
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair under a new
// session id. The old session stays live until it is evicted, logged out
// or the refresh token expires.
func (i *Issuer) Refresh(ctx context.Context, refreshToken, userAgent string) (Pair, error) {
	claims, err := i.Verify(refreshToken, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return i.IssuePair(ctx, claims.Subject, userAgent)
}

// Verify parses and validates a token, checking the signature, expiry and
// token type.
func (i *Issuer) Verify(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongType
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (i *Issuer) sign(tokenType, userID, sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign %s token: %w", tokenType, err)
	}
	return signed, nil
}
