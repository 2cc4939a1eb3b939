// Package session holds the locally recognised identity. Roles are asserted
// by this client after the backend accepts the credentials; the backend is
// never asked for a role.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/kbdesk/internal/storage"
)

// Role is either RoleAdmin or RoleUser.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the signed-in identity.
type User struct {
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	SessionID string `json:"sessionId,omitempty"`
}

// IsAdmin reports whether the user holds the administrator role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// NewSessionID returns a fresh opaque session token.
func NewSessionID() string {
	return uuid.New().String()
}

// Holder persists the current session. There is at most one per KV.
type Holder struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewHolder(kv storage.KV, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{kv: kv, logger: logger}
}

// Current returns the persisted user, or nil when nobody is signed in. A
// corrupt record is logged and treated as signed out.
func (h *Holder) Current(ctx context.Context) (*User, error) {
	raw, err := h.kv.Get(ctx, storage.KeySession)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.Email == "" || !u.Role.Valid() {
		h.logger.Warn("ignoring unreadable session record", "error", err)
		return nil, nil
	}
	return &u, nil
}

// Save persists u as the current session.
func (h *Holder) Save(ctx context.Context, u User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := h.kv.Set(ctx, storage.KeySession, string(b)); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// SignOut clears the persisted session.
func (h *Holder) SignOut(ctx context.Context) error {
	if err := h.kv.Remove(ctx, storage.KeySession); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
