package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbdesk/internal/catalog"
	"github.com/kalambet/kbdesk/internal/conversation"
	"github.com/kalambet/kbdesk/internal/desk"
	"github.com/kalambet/kbdesk/internal/kbclient"
	"github.com/kalambet/kbdesk/internal/session"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 64 << 20 // 64MB
)

type ConsoleDeps struct {
	Desk   *desk.Desk
	Tokens *Tokens
	Logger *slog.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      session.User `json:"user"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type addUserRequest struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Role     session.Role `json:"role"`
}

// NewConsoleHandler returns the JSON console. Every route except health
// and the auth endpoints requires a bearer token; admin-only routes are
// enforced by the desk.
func NewConsoleHandler(deps ConsoleDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/auth/signin", handleSignIn(deps))
	r.Post("/auth/signup", handleSignUp(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Tokens))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents/stats", handleStats(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/categories", handleCategories(deps))

		r.Post("/query", handleQuery(deps))
		r.Get("/history", handleHistory(deps))
		r.Delete("/history", handleClearHistory(deps))
		r.Post("/history/{id}/retry", handleRetry(deps))
		r.Get("/suggestions", handleSuggestions)

		r.Get("/users", handleListUsers(deps))
		r.Post("/users", handleAddUser(deps))
		r.Delete("/users/{id}", handleDeleteUser(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- auth ---

func handleSignIn(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if !decodeBody(w, r, &req) {
			return
		}

		u, err := deps.Desk.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			var kbErr *kbclient.Error
			if errors.As(err, &kbErr) && kbErr.Status != 0 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "%s", kbErr.Message)
				return
			}
			writeError(w, err)
			return
		}
		issueToken(w, deps, u, http.StatusOK)
	}
}

func handleSignUp(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if !decodeBody(w, r, &req) {
			return
		}

		u, err := deps.Desk.Register(r.Context(), req.Email, req.Password)
		if err != nil {
			var kbErr *kbclient.Error
			if errors.As(err, &kbErr) && kbErr.Status != 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", kbErr.Message)
				return
			}
			writeError(w, err)
			return
		}
		issueToken(w, deps, u, http.StatusCreated)
	}
}

func issueToken(w http.ResponseWriter, deps ConsoleDeps, u session.User, code int) {
	token, exp, err := deps.Tokens.Issue(u)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to issue token: %v", err)
		return
	}
	deps.Logger.Info("console sign-in", "email", u.Email, "role", u.Role)
	writeJSON(w, code, tokenResponse{Token: token, ExpiresAt: exp, User: u})
}

// --- documents ---

func handleListDocuments(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		docs, err := deps.Desk.Documents(userFrom(r.Context()), q.Get("q"), q.Get("category"))
		if err != nil {
			writeError(w, err)
			return
		}
		if docs == nil {
			docs = []catalog.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleUploadDocument(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxRequestBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req := desk.UploadRequest{
			Category:    r.FormValue("category"),
			Description: r.FormValue("description"),
		}
		if file, header, err := r.FormFile("file"); err == nil {
			defer file.Close()
			req.Filename = header.Filename
			req.Content = file
			req.Size = header.Size
			if ct := header.Header.Get("Content-Type"); ct != "application/octet-stream" {
				req.Type = ct
			}
		}

		doc, err := deps.Desk.Upload(r.Context(), userFrom(r.Context()), req)
		if err != nil && doc.ID == "" {
			writeError(w, err)
			return
		}
		if err != nil {
			deps.Logger.Error("catalog not persisted after upload", "id", doc.ID, "error", err)
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleStats(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Desk.Stats(userFrom(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleCategories(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		used, err := deps.Desk.Categories(userFrom(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{
			"inUse":     used,
			"available": catalog.Categories,
		})
	}
}

func handleDeleteDocument(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Desk.DeleteDocument(r.Context(), userFrom(r.Context()), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- conversation ---

func handleQuery(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		msg, err := deps.Desk.Ask(r.Context(), userFrom(r.Context()), req.Query)
		writeAnswer(w, msg, err)
	}
}

func handleRetry(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := deps.Desk.Retry(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
		writeAnswer(w, msg, err)
	}
}

// writeAnswer reports a backend failure with the message recorded in the
// transcript; the entry's id is what /history/{id}/retry expects.
func writeAnswer(w http.ResponseWriter, msg conversation.Message, err error) {
	if err != nil && msg.Role == conversation.RoleError {
		w.Header().Set("X-Message-Id", msg.ID)
		httpError(w, http.StatusBadGateway, "api_error", "%s", msg.Content)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func handleHistory(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Desk.History(r.Context(), userFrom(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []conversation.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleClearHistory(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Desk.ClearHistory(r.Context(), userFrom(r.Context())); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, conversation.Suggestions())
}

// --- users ---

func handleListUsers(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Desk.Users(r.Context(), userFrom(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
	}
}

func handleAddUser(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addUserRequest
		if !decodeBody(w, r, &req) {
			return
		}
		acct, err := deps.Desk.AddUser(r.Context(), userFrom(r.Context()), req.Email, req.Password, req.Role)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, acct)
	}
}

func handleDeleteUser(deps ConsoleDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Desk.DeleteUser(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
