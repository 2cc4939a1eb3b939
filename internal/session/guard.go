package session

import "errors"

var (
	ErrNotSignedIn        = errors.New("Please log in to continue")
	ErrMissingCredentials = errors.New("Please enter your email and password")
)

// ForbiddenError is returned when a standard user attempts an admin action.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return "Only administrators can " + e.Action
}

// RequireAdmin rejects anyone but a signed-in administrator. action reads
// as a verb phrase, e.g. "delete documents".
func RequireAdmin(u *User, action string) error {
	if u == nil {
		return ErrNotSignedIn
	}
	if u.Role != RoleAdmin {
		return &ForbiddenError{Action: action}
	}
	return nil
}

// RequireUser rejects anonymous callers.
func RequireUser(u *User) error {
	if u == nil {
		return ErrNotSignedIn
	}
	return nil
}
