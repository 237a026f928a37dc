// Package auth signs administrators in and guards the administrative pages.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// AdminStore is the part of the record store used for sign-in.
type AdminStore interface {
	GetAdministratorByID(ctx context.Context, id string) (*database.Administrator, error)
	GetAdministratorByEmail(ctx context.Context, email string) (*database.Administrator, error)
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate returns the administrator whose email and password match.
func Authenticate(ctx context.Context, store AdminStore, email, password string) (*database.Administrator, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	admin, err := store.GetAdministratorByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if admin == nil || admin.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// sessionKey stretches the configured secret to a 32 byte key.
func sessionKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
