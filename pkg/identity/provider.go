// Package identity provides local user accounts and access tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrInvalidToken       = errors.New("invalid access token")
	ErrLoginTaken         = errors.New("login already registered")
)

// Provider creates accounts in the record store and issues access tokens.
type Provider struct {
	store  *store.Store
	tokens *auth.TokenIssuer
	now    func() time.Time
}

// NewProvider builds a Provider.
func NewProvider(st *store.Store, tokens *auth.TokenIssuer) *Provider {
	return &Provider{store: st, tokens: tokens, now: time.Now}
}

// CreateUser registers login with password and returns the new user id.
func (p *Provider) CreateUser(ctx context.Context, login, password string) (string, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return "", fmt.Errorf("%w: login is required", ErrInvalidCredentials)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	acct := domain.Account{
		UserID:       uuid.NewString(),
		Login:        strings.ToLower(login),
		PasswordHash: hash,
		CreatedAt:    p.now().UnixMilli(),
	}
	if err := p.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrExists) {
			return "", ErrLoginTaken
		}
		return "", err
	}
	return acct.UserID, nil
}

// SignIn checks credentials and returns an access token and the user id.
func (p *Provider) SignIn(ctx context.Context, login, password string) (string, string, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return "", "", ErrInvalidCredentials
	}
	acct, ok, err := p.store.GetAccount(ctx, login)
	if err != nil {
		return "", "", err
	}
	if !ok || !auth.CheckPassword(password, acct.PasswordHash) {
		return "", "", ErrInvalidCredentials
	}
	token, err := p.tokens.Issue(acct.UserID)
	if err != nil {
		return "", "", fmt.Errorf("issue token: %w", err)
	}
	return token, acct.UserID, nil
}

// Authenticate resolves an access token to its user id.
func (p *Provider) Authenticate(_ context.Context, token string) (string, error) {
	userID, err := p.tokens.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return userID, nil
}
