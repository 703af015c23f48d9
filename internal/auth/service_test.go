package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
)

type fakeSessions struct {
	mu          sync.Mutex
	removed     []string
	invalidated []string
	live        map[string][]session.Descriptor
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{live: make(map[string][]session.Descriptor)}
}

func (f *fakeSessions) Remove(_ context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, userID+"/"+sessionID)
	return nil
}

func (f *fakeSessions) InvalidateAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, userID)
	delete(f.live, userID)
	return nil
}

func (f *fakeSessions) List(_ context.Context, userID string) ([]session.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[userID], nil
}

func (f *fakeSessions) invalidatedCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.invalidated {
		if id == userID {
			n++
		}
	}
	return n
}

// fakeMailer captures outbound tokens on buffered channels so tests can
// wait for the asynchronous delivery goroutine.
type fakeMailer struct {
	verifications chan string
	resets        chan string
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{
		verifications: make(chan string, 8),
		resets:        make(chan string, 8),
	}
}

func (f *fakeMailer) SendVerification(_ context.Context, _, _, verifyToken string) error {
	f.verifications <- verifyToken
	return nil
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, _, _, resetToken string) error {
	f.resets <- resetToken
	return nil
}

func waitToken(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case tok := <-ch:
		return tok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for mail delivery")
		return ""
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type accountsFixture struct {
	accounts *Accounts
	rbac     *RBAC
	store    *memStore
	sessions *fakeSessions
	mailer   *fakeMailer
	clock    *testClock
}

func newAccountsFixture(t *testing.T) *accountsFixture {
	t.Helper()
	store := newMemStore()
	clock := newTestClock()
	rbac := NewRBAC(store)
	if err := rbac.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	issuer, err := token.New([]byte("test-secret-at-least-32-bytes-long"), nil, token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	sessions := newFakeSessions()
	mailer := newFakeMailer()
	accounts := NewAccounts(store, rbac, issuer, sessions,
		WithMailer(mailer), WithClock(clock.Now), WithResetTTL(time.Hour))
	return &accountsFixture{
		accounts: accounts,
		rbac:     rbac,
		store:    store,
		sessions: sessions,
		mailer:   mailer,
		clock:    clock,
	}
}

func (f *accountsFixture) register(t *testing.T, email string) *User {
	t.Helper()
	user, err := f.accounts.Register(context.Background(), email, "s3cret-pass", "Ada", "Lovelace")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return user
}

func (f *accountsFixture) registerVerified(t *testing.T, email string) *User {
	t.Helper()
	user := f.register(t, email)
	verifyToken := waitToken(t, f.mailer.verifications)
	if err := f.accounts.VerifyEmail(context.Background(), verifyToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return user
}

func TestRegisterVerifyLogin(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()

	user := f.register(t, "ada@example.com")
	if user.EmailVerified {
		t.Fatalf("expected fresh account to be unverified")
	}

	// Unverified accounts cannot log in.
	if _, _, err := f.accounts.Login(ctx, "ada@example.com", "s3cret-pass", ""); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	verifyToken := waitToken(t, f.mailer.verifications)
	if err := f.accounts.VerifyEmail(ctx, verifyToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	// The token is one-time.
	if err := f.accounts.VerifyEmail(ctx, verifyToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on token replay, got %v", err)
	}

	loggedIn, pair, err := f.accounts.Login(ctx, "ada@example.com", "s3cret-pass", "cli/1.0")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected a full token pair")
	}
	if loggedIn.LastLogin.IsZero() {
		t.Fatalf("expected last login to be stamped")
	}

	// New members land in the auth service's default role.
	roles, err := f.rbac.RolesForUser(ctx, user.PublicID, mustAuthService(t, f).PublicID)
	if err != nil {
		t.Fatalf("RolesForUser: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "readonly" {
		t.Fatalf("expected the readonly default role, got %+v", roles)
	}
}

func mustAuthService(t *testing.T, f *accountsFixture) *Service {
	t.Helper()
	svc, err := f.rbac.GetServiceByName(context.Background(), AuthServiceName)
	if err != nil {
		t.Fatalf("GetServiceByName: %v", err)
	}
	return svc
}

func TestLoginRejections(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	user := f.registerVerified(t, "ada@example.com")

	if _, _, err := f.accounts.Login(ctx, "nobody@example.com", "s3cret-pass", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown email, got %v", err)
	}
	if _, _, err := f.accounts.Login(ctx, "ada@example.com", "wrong-pass", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong password, got %v", err)
	}

	if err := f.accounts.SetUserActive(ctx, user.PublicID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if _, _, err := f.accounts.Login(ctx, "ada@example.com", "s3cret-pass", ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if f.sessions.invalidatedCount(user.PublicID) != 1 {
		t.Fatalf("expected deactivation to retire sessions")
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	f := newAccountsFixture(t)
	f.register(t, "ada@example.com")
	if _, err := f.accounts.Register(context.Background(), "ada@example.com", "other-pass1", "", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()

	if _, err := f.accounts.Register(ctx, "not-an-email", "s3cret-pass", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := f.accounts.Register(ctx, "ada@example.com", "short", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	user := f.registerVerified(t, "ada@example.com")

	// Unknown addresses report success so the endpoint leaks nothing.
	if err := f.accounts.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset for unknown email: %v", err)
	}
	select {
	case tok := <-f.mailer.resets:
		t.Fatalf("expected no reset mail for unknown email, got token %q", tok)
	case <-time.After(100 * time.Millisecond):
	}

	if err := f.accounts.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	resetToken := waitToken(t, f.mailer.resets)

	if err := f.accounts.ResetPassword(ctx, resetToken, "brand-new-pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, _, err := f.accounts.Login(ctx, "ada@example.com", "s3cret-pass", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old password to stop working, got %v", err)
	}
	if _, _, err := f.accounts.Login(ctx, "ada@example.com", "brand-new-pass", ""); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if f.sessions.invalidatedCount(user.PublicID) != 1 {
		t.Fatalf("expected reset to retire sessions")
	}

	// The consumed token cannot be replayed.
	if err := f.accounts.ResetPassword(ctx, resetToken, "another-pass1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on token replay, got %v", err)
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "ada@example.com")

	if err := f.accounts.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	resetToken := waitToken(t, f.mailer.resets)

	f.clock.Advance(2 * time.Hour)
	if err := f.accounts.ResetPassword(ctx, resetToken, "brand-new-pass"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	user := f.registerVerified(t, "ada@example.com")

	if err := f.accounts.ChangePassword(ctx, user.PublicID, "wrong-pass", "brand-new-pass"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong current password, got %v", err)
	}
	if err := f.accounts.ChangePassword(ctx, user.PublicID, "s3cret-pass", "brand-new-pass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := f.accounts.Login(ctx, "ada@example.com", "brand-new-pass", ""); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if f.sessions.invalidatedCount(user.PublicID) != 1 {
		t.Fatalf("expected change to retire sessions")
	}
}

func TestRefresh(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	user := f.registerVerified(t, "ada@example.com")

	_, pair, err := f.accounts.Login(ctx, "ada@example.com", "s3cret-pass", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := f.accounts.Refresh(ctx, pair.RefreshToken, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == pair.AccessToken {
		t.Fatalf("expected a fresh access token")
	}

	if _, err := f.accounts.Refresh(ctx, "garbage", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage token, got %v", err)
	}
	if _, err := f.accounts.Refresh(ctx, pair.AccessToken, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for access-as-refresh, got %v", err)
	}

	if err := f.accounts.SetUserActive(ctx, user.PublicID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if _, err := f.accounts.Refresh(ctx, pair.RefreshToken, ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestFindOrCreateByProvider(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()

	created, err := f.accounts.FindOrCreateByProvider(ctx, ProviderGoogle, "goog-123", "ada@example.com", "Ada", "Lovelace")
	if err != nil {
		t.Fatalf("FindOrCreateByProvider: %v", err)
	}
	if !created.EmailVerified {
		t.Fatalf("expected provider accounts to start verified")
	}

	again, err := f.accounts.FindOrCreateByProvider(ctx, ProviderGoogle, "goog-123", "ada@example.com", "", "")
	if err != nil {
		t.Fatalf("repeat FindOrCreateByProvider: %v", err)
	}
	if again.PublicID != created.PublicID {
		t.Fatalf("expected the same account on repeat lookup")
	}

	// A second provider with the same email links to the existing account.
	linked, err := f.accounts.FindOrCreateByProvider(ctx, ProviderDiscord, "disc-9", "ada@example.com", "", "")
	if err != nil {
		t.Fatalf("FindOrCreateByProvider via discord: %v", err)
	}
	if linked.PublicID != created.PublicID {
		t.Fatalf("expected email linkage to the existing account")
	}
	stored, err := f.accounts.GetUser(ctx, created.PublicID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.DiscordID != "disc-9" {
		t.Fatalf("expected discord subject to be persisted, got %q", stored.DiscordID)
	}
}

func TestLogout(t *testing.T) {
	f := newAccountsFixture(t)
	ctx := context.Background()
	user := f.registerVerified(t, "ada@example.com")

	if err := f.accounts.Logout(ctx, user.PublicID, "sess-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(f.sessions.removed) != 1 || f.sessions.removed[0] != user.PublicID+"/sess-1" {
		t.Fatalf("expected one session removal, got %v", f.sessions.removed)
	}
	if err := f.accounts.LogoutAll(ctx, user.PublicID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
}
