package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/kbdesk/internal/storage"
)

var ctx = context.Background()

type fakeBackend struct {
	mu      sync.Mutex
	signIns []string
	signUps []string
	err     error
}

func (f *fakeBackend) SignIn(_ context.Context, email, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns = append(f.signIns, email)
	return f.err
}

func (f *fakeBackend) SignUp(_ context.Context, email, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUps = append(f.signUps, email)
	return f.err
}

func newAuth(t *testing.T, be Backend) *Authenticator {
	t.Helper()
	admin, err := NewAdminCredential("admin@uol.edu.pk", "admin123")
	require.NoError(t, err)
	return NewAuthenticator(be, admin)
}

func TestSignIn_AdminIsLocal(t *testing.T) {
	be := &fakeBackend{}
	auth := newAuth(t, be)

	u, err := auth.SignIn(ctx, "admin@uol.edu.pk", "admin123")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.Equal(t, "admin@uol.edu.pk", u.Email)
	assert.NotEmpty(t, u.SessionID)
	assert.Empty(t, be.signIns, "admin sign-in must not reach the backend")
}

func TestSignIn_AdminWrongPasswordGoesToBackend(t *testing.T) {
	be := &fakeBackend{err: errors.New("Invalid credentials")}
	auth := newAuth(t, be)

	_, err := auth.SignIn(ctx, "admin@uol.edu.pk", "nope")
	require.EqualError(t, err, "Invalid credentials")
	assert.Equal(t, []string{"admin@uol.edu.pk"}, be.signIns)
}

func TestSignIn_StandardUser(t *testing.T) {
	be := &fakeBackend{}
	auth := newAuth(t, be)

	u, err := auth.SignIn(ctx, " student@uol.edu.pk ", "pw1234")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, "student@uol.edu.pk", u.Email)
	assert.Equal(t, []string{"student@uol.edu.pk"}, be.signIns)
}

func TestSignIn_MissingCredentials(t *testing.T) {
	be := &fakeBackend{}
	auth := newAuth(t, be)

	_, err := auth.SignIn(ctx, "", "x")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	_, err = auth.SignIn(ctx, "a@b.c", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Empty(t, be.signIns)
}

func TestSignUp(t *testing.T) {
	be := &fakeBackend{}
	auth := newAuth(t, be)

	u, err := auth.SignUp(ctx, "new@uol.edu.pk", "pw1234")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, []string{"new@uol.edu.pk"}, be.signUps)

	be.err = errors.New("Registration failed")
	_, err = auth.SignUp(ctx, "dup@uol.edu.pk", "pw1234")
	require.EqualError(t, err, "Registration failed")
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestHolder_RoundTrip(t *testing.T) {
	h := NewHolder(storage.NewMemory(), nil)

	u, err := h.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	want := User{Email: "s@uol.edu.pk", Role: RoleUser, SessionID: "abc"}
	require.NoError(t, h.Save(ctx, want))

	got, err := h.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	require.NoError(t, h.SignOut(ctx))
	got, err = h.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHolder_CorruptRecordIsSignedOut(t *testing.T) {
	kv := storage.NewMemory()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHolder(kv, quiet)

	for _, raw := range []string{"{not json", `{"email":"","role":"user"}`, `{"email":"a@b.c","role":"root"}`} {
		require.NoError(t, kv.Set(ctx, storage.KeySession, raw))
		u, err := h.Current(ctx)
		require.NoError(t, err)
		assert.Nil(t, u, raw)
	}
}

func TestRequireAdmin(t *testing.T) {
	assert.ErrorIs(t, RequireAdmin(nil, "upload documents"), ErrNotSignedIn)

	err := RequireAdmin(&User{Email: "s@x", Role: RoleUser}, "upload documents")
	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "Only administrators can upload documents", err.Error())

	assert.NoError(t, RequireAdmin(&User{Email: "a@x", Role: RoleAdmin}, "upload documents"))
}

func TestRequireUser(t *testing.T) {
	assert.ErrorIs(t, RequireUser(nil), ErrNotSignedIn)
	assert.NoError(t, RequireUser(&User{Email: "s@x", Role: RoleUser}))
}
