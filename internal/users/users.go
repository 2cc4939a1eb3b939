// Package users keeps the administrator's local directory of accounts. The
// backend owns credentials; this directory only records who was created
// from here and with which role.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/kbdesk/internal/kbclient"
	"github.com/kalambet/kbdesk/internal/session"
	"github.com/kalambet/kbdesk/internal/storage"
)

const (
	MinPasswordLen = 6

	msgCreateTransport = "Failed to create user. Please check your connection."
)

var ErrAccountNotFound = errors.New("user not found")

// ValidationError is a rejected request that never reached the backend.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// Account is one directory entry. CreatedAt is a calendar date.
type Account struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Role      session.Role `json:"role"`
	CreatedAt string       `json:"createdAt"`
}

// Creator registers a new account with the backend.
type Creator interface {
	CreateUser(ctx context.Context, email, password string) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Directory)

func WithClock(c Clock) Option {
	return func(d *Directory) { d.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// Directory is the account list. It always contains the main admin.
type Directory struct {
	kv         storage.KV
	creator    Creator
	adminEmail string
	clock      Clock
	logger     *slog.Logger

	mu sync.Mutex
}

func NewDirectory(kv storage.KV, creator Creator, adminEmail string, opts ...Option) *Directory {
	d := &Directory{
		kv:         kv,
		creator:    creator,
		adminEmail: adminEmail,
		clock:      realClock{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Directory) seed() []Account {
	return []Account{{ID: "1", Email: d.adminEmail, Role: session.RoleAdmin, CreatedAt: "2024-01-01"}}
}

// List returns the accounts in creation order.
func (d *Directory) List(ctx context.Context) ([]Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(ctx)
}

// Add validates the request, registers the account with the backend and
// records it locally only when the backend accepted it.
func (d *Directory) Add(ctx context.Context, email, password string, role session.Role) (Account, error) {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return Account{}, invalid("Please enter an email address")
	case password == "":
		return Account{}, invalid("Please enter a password")
	case len(password) < MinPasswordLen:
		return Account{}, invalid("Password must be at least 6 characters long")
	}
	if role == "" {
		role = session.RoleUser
	}
	if !role.Valid() {
		return Account{}, invalid(fmt.Sprintf("Unknown role %q", role))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	accounts, err := d.load(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.Email == email {
			return Account{}, invalid("User with this email already exists")
		}
	}

	if err := d.creator.CreateUser(ctx, email, password); err != nil {
		var kbErr *kbclient.Error
		if errors.As(err, &kbErr) && kbErr.Status == 0 {
			return Account{}, &kbclient.Error{Op: kbErr.Op, Message: msgCreateTransport, Cause: kbErr.Cause}
		}
		return Account{}, err
	}

	acct := Account{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      role,
		CreatedAt: d.clock.Now().UTC().Format(time.DateOnly),
	}
	accounts = append(accounts, acct)
	if err := d.save(ctx, accounts); err != nil {
		return Account{}, err
	}
	d.logger.Info("user created", "email", email, "role", role)
	return acct, nil
}

// Delete removes the account with id. The main admin cannot be removed.
func (d *Directory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	accounts, err := d.load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, a := range accounts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrAccountNotFound
	}
	if accounts[idx].Email == d.adminEmail {
		return invalid("Cannot delete the main admin user")
	}

	accounts = append(accounts[:idx], accounts[idx+1:]...)
	return d.save(ctx, accounts)
}

func (d *Directory) load(ctx context.Context) ([]Account, error) {
	raw, err := d.kv.Get(ctx, storage.KeyUsers)
	if errors.Is(err, storage.ErrNotFound) {
		return d.seed(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		d.logger.Warn("discarding unreadable user directory", "error", err)
		return d.seed(), nil
	}
	return accounts, nil
}

func (d *Directory) save(ctx context.Context, accounts []Account) error {
	b, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("marshaling users: %w", err)
	}
	if err := d.kv.Set(ctx, storage.KeyUsers, string(b)); err != nil {
		return fmt.Errorf("saving users: %w", err)
	}
	return nil
}
