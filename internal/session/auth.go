package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Backend is the subset of the knowledge-base client used for credentials.
type Backend interface {
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
}

// AdminCredential is the fixed administrator account. The password is only
// kept as a bcrypt hash.
type AdminCredential struct {
	Email        string
	PasswordHash []byte
}

// NewAdminCredential hashes password for later comparison.
func NewAdminCredential(email, password string) (AdminCredential, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AdminCredential{}, fmt.Errorf("hashing admin password: %w", err)
	}
	return AdminCredential{Email: email, PasswordHash: hash}, nil
}

func (a AdminCredential) matches(email, password string) bool {
	if a.Email == "" || len(a.PasswordHash) == 0 {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(email), []byte(a.Email)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) == nil
}

// Authenticator turns credentials into a User.
type Authenticator struct {
	backend Backend
	admin   AdminCredential
}

func NewAuthenticator(backend Backend, admin AdminCredential) *Authenticator {
	return &Authenticator{backend: backend, admin: admin}
}

// AdminEmail is the address of the fixed administrator.
func (a *Authenticator) AdminEmail() string { return a.admin.Email }

// SignIn authenticates email/password. The fixed administrator pair is
// accepted locally without contacting the backend; every other pair is
// forwarded to it and, when accepted, becomes a standard user. Backend
// failures come back as *kbclient.Error with a user-facing message.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, ErrMissingCredentials
	}

	if a.admin.matches(email, password) {
		return User{Email: email, Role: RoleAdmin, SessionID: NewSessionID()}, nil
	}

	if err := a.backend.SignIn(ctx, email, password); err != nil {
		return User{}, err
	}
	return User{Email: email, Role: RoleUser, SessionID: NewSessionID()}, nil
}

// SignUp registers a new standard user with the backend.
func (a *Authenticator) SignUp(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, ErrMissingCredentials
	}

	if err := a.backend.SignUp(ctx, email, password); err != nil {
		return User{}, err
	}
	return User{Email: email, Role: RoleUser, SessionID: NewSessionID()}, nil
}
