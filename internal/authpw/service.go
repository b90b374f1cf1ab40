// Package authpw provides credentials and OAuth sign-in on top of the user
// and account records.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"devflow/api/internal/store"
	"devflow/api/internal/util"
)

const providerCredentials = "credentials"

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (store.Account, error)
	CreateUserWithAccount(ctx context.Context, user store.User, account store.Account) error
	EnsureOAuthUser(ctx context.Context, user store.User, account store.Account) (store.User, error)
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains credentials sign-up parameters
type SignUpRequest struct {
	Name     string
	Username string
	Email    string
	Password string
}

// SignUpWithCredentials creates a user and its credentials account. The two
// inserts run in one transaction inside the store so a failure leaves
// nothing behind.
func (s *Service) SignUpWithCredentials(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("check email: %w", err)
	}
	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return store.User{}, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:       util.NewID("usr"),
		Name:     req.Name,
		Username: req.Username,
		Email:    email,
	}
	account := store.Account{
		ID:                util.NewID("acc"),
		UserID:            user.ID,
		Name:              req.Name,
		Provider:          providerCredentials,
		ProviderAccountID: email,
		PasswordHash:      string(hash),
	}

	if err := s.store.CreateUserWithAccount(ctx, user, account); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignInWithCredentials verifies a password against the credentials
// account. Lookup and compare failures collapse into one generic error so
// callers cannot probe which emails exist.
func (s *Service) SignInWithCredentials(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.store.GetAccountByProvider(ctx, providerCredentials, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup account: %w", err)
	}
	if account.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// OAuthRequest carries what the provider told us about the user.
type OAuthRequest struct {
	Provider          string
	ProviderAccountID string
	Name              string
	Username          string
	Email             string
	Image             string
}

// SignInWithOAuth upserts the user and provider account in one
// transaction: new users are created, returning users get drifted
// name/image refreshed, and the provider account is linked on first use.
func (s *Service) SignInWithOAuth(ctx context.Context, req OAuthRequest) (store.User, error) {
	user := store.User{
		ID:       util.NewID("usr"),
		Name:     req.Name,
		Username: slugify(req.Username),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Image:    req.Image,
	}
	account := store.Account{
		ID:                util.NewID("acc"),
		Name:              req.Name,
		Image:             req.Image,
		Provider:          req.Provider,
		ProviderAccountID: req.ProviderAccountID,
	}

	resolved, err := s.store.EnsureOAuthUser(ctx, user, account)
	if err != nil {
		return store.User{}, fmt.Errorf("oauth sign-in: %w", err)
	}
	return resolved, nil
}

// slugify lowercases and strips a username down to letters, digits and
// single hyphens, the shape we require of provider-supplied usernames.
func slugify(value string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
