// Package adminsession implements password login and bearer-token sessions
// for the single library administrator.
package adminsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

const (
	// TokenPrefix starts every admin token.
	TokenPrefix = "admin_"
	// DefaultTTL is the lifetime of a fresh admin token.
	DefaultTTL = 24 * time.Hour
)

// DefaultPasswordDigest is the SHA-256 digest of the factory password "7777".
var DefaultPasswordDigest = auth.DigestPassword("7777")

var (
	// ErrInvalidPassword is returned by Login on a digest mismatch.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrPasswordRequired is returned by Login for an empty password.
	ErrPasswordRequired = errors.New("password is required")
	// ErrUnauthorized is returned by Verify for any unusable token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Config configures a Manager.
type Config struct {
	// PasswordDigest is the lowercase hex SHA-256 of the admin password.
	PasswordDigest string
	TTL            time.Duration
	Clock          clock.Clock
}

// Manager issues, checks and revokes admin tokens.
type Manager struct {
	store  *store.Store
	digest string
	ttl    time.Duration
	clock  clock.Clock
}

// NewManager builds a Manager with defaults for zero Config fields.
func NewManager(st *store.Store, cfg Config) *Manager {
	digest := strings.ToLower(strings.TrimSpace(cfg.PasswordDigest))
	if digest == "" {
		digest = DefaultPasswordDigest
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{store: st, digest: digest, ttl: ttl, clock: clk}
}

// Login checks password against the reference digest and persists a new
// token. Failed attempts are not counted.
func (m *Manager) Login(ctx context.Context, password string) (string, domain.AdminToken, error) {
	if password == "" {
		return "", domain.AdminToken{}, ErrPasswordRequired
	}
	if !auth.MatchDigest(password, m.digest) {
		return "", domain.AdminToken{}, ErrInvalidPassword
	}
	token, err := newToken()
	if err != nil {
		return "", domain.AdminToken{}, err
	}
	now := m.clock.Now()
	rec := domain.AdminToken{
		Valid:     true,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(m.ttl).UnixMilli(),
	}
	if err := m.store.SaveAdminToken(ctx, token, rec); err != nil {
		return "", domain.AdminToken{}, fmt.Errorf("save admin token: %w", err)
	}
	return token, rec, nil
}

// Verify accepts token only while its record exists, is valid and expiresAt
// is still in the future. An expired record is deleted.
func (m *Manager) Verify(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" || !strings.HasPrefix(token, TokenPrefix) {
		return ErrUnauthorized
	}
	rec, ok, err := m.store.GetAdminToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRecord) {
			return ErrUnauthorized
		}
		return err
	}
	if !ok || !rec.Valid {
		return ErrUnauthorized
	}
	if m.clock.Now().UnixMilli() >= rec.ExpiresAt {
		if err := m.store.DeleteAdminToken(ctx, token); err != nil {
			slog.WarnContext(ctx, "delete expired admin token", "err", err)
		}
		return ErrUnauthorized
	}
	return nil
}

// Logout deletes the token record. Unknown tokens are ignored.
func (m *Manager) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" || !strings.HasPrefix(token, TokenPrefix) {
		return nil
	}
	return m.store.DeleteAdminToken(ctx, token)
}

// SweepExpired deletes every expired or invalid token and returns how many
// were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	tokens, err := m.store.ListAdminTokens(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now().UnixMilli()
	removed := 0
	for _, t := range tokens {
		if t.Valid && now < t.ExpiresAt {
			continue
		}
		if err := m.store.DeleteAdminToken(ctx, t.Token); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(buf), nil
}
