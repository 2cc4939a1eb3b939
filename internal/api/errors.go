package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/kbdesk/internal/conversation"
	"github.com/kalambet/kbdesk/internal/desk"
	"github.com/kalambet/kbdesk/internal/kbclient"
	"github.com/kalambet/kbdesk/internal/session"
	"github.com/kalambet/kbdesk/internal/users"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a desk-level error onto a status code. Messages are
// already user-facing.
func writeError(w http.ResponseWriter, err error) {
	var (
		forbidden *session.ForbiddenError
		invalid   *users.ValidationError
		kbErr     *kbclient.Error
	)
	switch {
	case errors.Is(err, session.ErrNotSignedIn), errors.Is(err, conversation.ErrNotSignedIn):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%s", err.Error())
	case errors.As(err, &forbidden):
		httpError(w, http.StatusForbidden, "permission_error", "%s", err.Error())
	case errors.As(err, &invalid),
		errors.Is(err, desk.ErrUploadIncomplete),
		errors.Is(err, session.ErrMissingCredentials),
		errors.Is(err, conversation.ErrEmptyQuery),
		errors.Is(err, conversation.ErrNotRetryable):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err.Error())
	case errors.Is(err, desk.ErrDocumentNotFound),
		errors.Is(err, conversation.ErrMessageNotFound),
		errors.Is(err, users.ErrAccountNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s", err.Error())
	case errors.Is(err, conversation.ErrQueryInFlight):
		httpError(w, http.StatusConflict, "conflict", "%s", err.Error())
	case errors.As(err, &kbErr):
		httpError(w, http.StatusBadGateway, "api_error", "%s", kbErr.Message)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s", err.Error())
	}
}
