package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/abdulaziz-uzb777/library-project/internal/util"
	"github.com/abdulaziz-uzb777/library-project/pkg/adminsession"
	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/identity"
	"github.com/abdulaziz-uzb777/library-project/pkg/storage"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

const (
	defaultMaxPDFBytes   = 50 << 20
	defaultMaxCoverBytes = 2 << 20
)

// Config holds the collaborators and limits of the application.
type Config struct {
	Store    *store.Store
	Objects  storage.ObjectStore
	Identity *identity.Provider
	Admin    *adminsession.Manager

	SignedURLExpiry time.Duration
	MaxPDFBytes     int64
	MaxCoverBytes   int64

	// Now overrides the clock used for ids and timestamps.
	Now func() time.Time
}

// App implements the library use cases on top of the record store.
type App struct {
	store    *store.Store
	objects  storage.ObjectStore
	identity *identity.Provider
	admin    *adminsession.Manager

	signedURLExpiry time.Duration
	maxPDFBytes     int64
	maxCoverBytes   int64
	now             func() time.Time
}

// New validates cfg and builds the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil || cfg.Objects == nil || cfg.Identity == nil || cfg.Admin == nil {
		return nil, errors.New("app: store, objects, identity and admin are required")
	}
	a := &App{
		store:           cfg.Store,
		objects:         cfg.Objects,
		identity:        cfg.Identity,
		admin:           cfg.Admin,
		signedURLExpiry: storage.ClampExpiry(cfg.SignedURLExpiry),
		maxPDFBytes:     cfg.MaxPDFBytes,
		maxCoverBytes:   cfg.MaxCoverBytes,
		now:             cfg.Now,
	}
	if a.maxPDFBytes <= 0 {
		a.maxPDFBytes = defaultMaxPDFBytes
	}
	if a.maxCoverBytes <= 0 {
		a.maxCoverBytes = defaultMaxCoverBytes
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// MaxUploadBytes bounds a whole book upload request.
func (a *App) MaxUploadBytes() int64 {
	return a.maxPDFBytes + a.maxCoverBytes + 1<<20
}

// Authenticate resolves an end-user access token to a user id.
func (a *App) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := a.identity.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return "", ErrUnauthorized
		}
		return "", err
	}
	return userID, nil
}

// VerifyAdmin checks an admin token.
func (a *App) VerifyAdmin(ctx context.Context, token string) error {
	if err := a.admin.Verify(ctx, token); err != nil {
		if errors.Is(err, adminsession.ErrUnauthorized) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}

// AdminLogin exchanges the admin password for a token.
func (a *App) AdminLogin(ctx context.Context, password string) (string, error) {
	token, _, err := a.admin.Login(ctx, password)
	switch {
	case errors.Is(err, adminsession.ErrPasswordRequired):
		return "", badRequest("Password is required")
	case errors.Is(err, adminsession.ErrInvalidPassword):
		return "", ErrInvalidPassword
	case err != nil:
		return "", err
	}
	return token, nil
}

// AdminLogout revokes an admin token.
func (a *App) AdminLogout(ctx context.Context, token string) error {
	return a.admin.Logout(ctx, token)
}

// ListUsers returns every user profile.
func (a *App) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	return a.store.ListUsers(ctx)
}

func (a *App) logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}
