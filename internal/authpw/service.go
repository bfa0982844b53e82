// Package authpw handles password credentials: sign-up hashing and
// sign-in verification. Token issuing lives in the app layer.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mindloom/api/internal/store"
	"mindloom/api/internal/util"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password too short")
)

const minPasswordLen = 8

// UserStore is the slice of the data store this service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) error
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	EnsureDemoUser(ctx context.Context, username string) (store.User, error)
}

type Service struct {
	store        UserStore
	demoUsername string
}

func NewService(userStore UserStore, demoUsername string) *Service {
	return &Service{store: userStore, demoUsername: demoUsername}
}

// SignUp registers a new account with role "user".
func (s *Service) SignUp(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return store.User{}, fmt.Errorf("%w: username required", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLen {
		return store.User{}, ErrWeakPassword
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return store.User{}, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := store.User{
		ID:           util.NewID("user"),
		Username:     username,
		PasswordHash: string(hash),
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// SignIn verifies a username/password pair. The demo account signs in
// without a password check and is created on first use.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == s.demoUsername {
		u, err := s.store.EnsureDemoUser(ctx, username)
		if err != nil {
			return store.User{}, fmt.Errorf("demo sign-in: %w", err)
		}
		return u, nil
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return u, nil
}
