package adminsession

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *testclock.Clock) {
	t.Helper()
	st := store.New(kv.NewMemoryStore())
	clk := testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewManager(st, Config{Clock: clk}), st, clk
}

func TestLoginWithDefaultPassword(t *testing.T) {
	ctx := context.Background()
	m, st, clk := newTestManager(t)

	token, rec, err := m.Login(ctx, "7777")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.HasPrefix(token, TokenPrefix) || len(token) != len(TokenPrefix)+64 {
		t.Fatalf("unexpected token %q", token)
	}
	if !rec.Valid || rec.CreatedAt != clk.Now().UnixMilli() {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ExpiresAt-rec.CreatedAt != DefaultTTL.Milliseconds() {
		t.Fatalf("expected 24h lifetime, got %dms", rec.ExpiresAt-rec.CreatedAt)
	}
	stored, ok, err := st.GetAdminToken(ctx, token)
	if err != nil || !ok || stored != rec {
		t.Fatalf("expected stored record, got %+v ok=%v err=%v", stored, ok, err)
	}
	if err := m.Verify(ctx, token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	if _, _, err := m.Login(ctx, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, _, err := m.Login(ctx, "1234"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	tokens, _ := st.ListAdminTokens(ctx)
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens after failed login, got %d", len(tokens))
	}
}

func TestNoLockoutAndDistinctTokens(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	for i := 0; i < 2; i++ {
		if _, _, err := m.Login(ctx, "wrong"); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("attempt %d: expected ErrInvalidPassword, got %v", i, err)
		}
	}
	a, _, err := m.Login(ctx, "7777")
	if err != nil {
		t.Fatalf("login after failures: %v", err)
	}
	b, _, err := m.Login(ctx, "7777")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
	if err := m.Verify(ctx, a); err != nil {
		t.Fatalf("first token should stay valid: %v", err)
	}
}

func TestCustomDigest(t *testing.T) {
	ctx := context.Background()
	st := store.New(kv.NewMemoryStore())
	m := NewManager(st, Config{PasswordDigest: auth.DigestPassword("hunter22")})

	if _, _, err := m.Login(ctx, "7777"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected default password rejected, got %v", err)
	}
	if _, _, err := m.Login(ctx, "hunter22"); err != nil {
		t.Fatalf("login with custom password: %v", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	ctx := context.Background()
	m, st, clk := newTestManager(t)

	token, _, err := m.Login(ctx, "7777")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	clk.Advance(DefaultTTL - time.Millisecond)
	if err := m.Verify(ctx, token); err != nil {
		t.Fatalf("expected token valid before expiry: %v", err)
	}

	clk.Advance(time.Millisecond)
	if err := m.Verify(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after expiry, got %v", err)
	}
	if _, ok, _ := st.GetAdminToken(ctx, token); ok {
		t.Fatalf("expected expired record to be deleted")
	}
	if err := m.Verify(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on recheck, got %v", err)
	}
}

func TestVerifyRejectsUnknownTokens(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	for _, token := range []string{"", "   ", "admin_deadbeef", "nope"} {
		if err := m.Verify(ctx, token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("token %q: expected ErrUnauthorized, got %v", token, err)
		}
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	token, _, err := m.Login(ctx, "7777")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := m.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := m.Verify(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after logout, got %v", err)
	}
	if err := m.Logout(ctx, token); err != nil {
		t.Fatalf("second logout should be a no-op: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	m, st, clk := newTestManager(t)

	old, _, _ := m.Login(ctx, "7777")
	clk.Advance(12 * time.Hour)
	fresh, _, _ := m.Login(ctx, "7777")
	clk.Advance(13 * time.Hour)

	removed, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one token removed, got %d", removed)
	}
	if _, ok, _ := st.GetAdminToken(ctx, old); ok {
		t.Fatalf("expected old token removed")
	}
	if err := m.Verify(ctx, fresh); err != nil {
		t.Fatalf("expected fresh token valid: %v", err)
	}
}
