package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/identity"
)

// signupAttempts bounds login regeneration when two signups with the same
// first name land in the same millisecond.
const signupAttempts = 3

// SignUpInput is the registration form.
type SignUpInput struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Country     string
	City        string
	AboutMe     string
	Password    string
}

// SignUpResult carries the generated login back to the new reader.
type SignUpResult struct {
	Login    string
	Password string
	Profile  domain.UserProfile
}

// SignUp registers a reader under a generated login of the form
// "<firstname>_<unixMillis>".
func (a *App) SignUp(ctx context.Context, in SignUpInput) (SignUpResult, error) {
	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" || in.Password == "" {
		return SignUpResult{}, badRequest("First name and password are required")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return SignUpResult{}, badRequest(fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength))
	}

	base := strings.ToLower(strings.Join(strings.Fields(firstName), ""))
	millis := a.now().UnixMilli()
	var login, userID string
	for attempt := 0; attempt < signupAttempts; attempt++ {
		login = base + "_" + strconv.FormatInt(millis+int64(attempt), 10)
		id, err := a.identity.CreateUser(ctx, login, in.Password)
		if errors.Is(err, identity.ErrLoginTaken) {
			continue
		}
		if err != nil {
			return SignUpResult{}, fmt.Errorf("create account: %w", err)
		}
		userID = id
		break
	}
	if userID == "" {
		return SignUpResult{}, errors.New("create account: login space exhausted")
	}

	profile := domain.UserProfile{
		ID:          userID,
		Login:       login,
		FirstName:   firstName,
		LastName:    strings.TrimSpace(in.LastName),
		DateOfBirth: strings.TrimSpace(in.DateOfBirth),
		Country:     strings.TrimSpace(in.Country),
		City:        strings.TrimSpace(in.City),
		AboutMe:     strings.TrimSpace(in.AboutMe),
		Favorites:   []string{},
		Recent:      []string{},
	}
	if err := a.store.SaveUser(ctx, profile); err != nil {
		if delErr := a.store.DeleteAccount(ctx, login); delErr != nil {
			a.logger(ctx).Error("rollback account after profile failure", "login", login, "err", delErr)
		}
		return SignUpResult{}, fmt.Errorf("save profile: %w", err)
	}
	return SignUpResult{Login: login, Password: in.Password, Profile: profile}, nil
}

// SignIn exchanges a login and password for an access token.
func (a *App) SignIn(ctx context.Context, login, password string) (string, domain.UserProfile, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return "", domain.UserProfile{}, badRequest("Login and password are required")
	}
	token, userID, err := a.identity.SignIn(ctx, login, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return "", domain.UserProfile{}, ErrInvalidCredentials
		}
		return "", domain.UserProfile{}, err
	}
	profile, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return "", domain.UserProfile{}, err
	}
	if !ok {
		profile = domain.UserProfile{ID: userID, Login: strings.ToLower(login)}
	}
	return token, withLists(profile), nil
}

// Me returns the profile of the signed-in reader.
func (a *App) Me(ctx context.Context, userID string) (domain.UserProfile, error) {
	profile, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if !ok {
		return domain.UserProfile{}, ErrProfileNotFound
	}
	return withLists(profile), nil
}

// withLists replaces nil lists so they encode as [] rather than null.
func withLists(p domain.UserProfile) domain.UserProfile {
	if p.Favorites == nil {
		p.Favorites = []string{}
	}
	if p.Recent == nil {
		p.Recent = []string{}
	}
	return p
}
