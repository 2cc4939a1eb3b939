package kbclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type recorded struct {
	Method      string
	Path        string
	ContentType string
	Accept      string
	Form        map[string]string
	FileName    string
	FileBody    string
}

type backend struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

func newBackend(t *testing.T, status int, body string) (*backend, *Client) {
	t.Helper()
	b := &backend{status: status, body: body}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Accept:      r.Header.Get("Accept"),
			Form:        map[string]string{},
		}
		if strings.HasPrefix(rec.ContentType, "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				for k, v := range r.MultipartForm.Value {
					rec.Form[k] = v[0]
				}
				if fh, ok := r.MultipartForm.File["file"]; ok {
					rec.FileName = fh[0].Filename
					f, _ := fh[0].Open()
					data, _ := io.ReadAll(f)
					f.Close()
					rec.FileBody = string(data)
				}
			}
		} else if err := r.ParseForm(); err == nil {
			for k, v := range r.PostForm {
				rec.Form[k] = v[0]
			}
		}

		b.mu.Lock()
		b.requests = append(b.requests, rec)
		status, body := b.status, b.body
		b.mu.Unlock()

		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return b, New(srv.URL+"/", WithHTTPClient(srv.Client()), WithLogger(quiet))
}

func (b *backend) setStatus(status int) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

func (b *backend) last(t *testing.T) recorded {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests, "no request reached the backend")
	return b.requests[len(b.requests)-1]
}

func TestUpload_SendsMultipart(t *testing.T) {
	b, c := newBackend(t, http.StatusOK, `{"status":"ok"}`)

	err := c.Upload(ctx, "admin@uol.edu.pk", "handbook.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)

	req := b.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/upload", req.Path)
	assert.True(t, strings.HasPrefix(req.ContentType, "multipart/form-data"))
	assert.Equal(t, "application/json", req.Accept)
	assert.Equal(t, "admin@uol.edu.pk", req.Form["email"])
	assert.Equal(t, "handbook.pdf", req.FileName)
	assert.Equal(t, "%PDF-1.7", req.FileBody)
}

func TestUpload_RejectedStatus(t *testing.T) {
	_, c := newBackend(t, http.StatusInternalServerError, "boom")

	err := c.Upload(ctx, "admin@uol.edu.pk", "a.pdf", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, MsgUploadFailed, err.Error())

	var kbErr *Error
	require.ErrorAs(t, err, &kbErr)
	assert.Equal(t, http.StatusInternalServerError, kbErr.Status)
	assert.Equal(t, "upload", kbErr.Op)
}

func TestQuery_ReturnsRawBody(t *testing.T) {
	b, c := newBackend(t, http.StatusOK, "The answer.\nSource: handbook.pdf")

	body, err := c.Query(ctx, "student@uol.edu.pk", "sess-1", "When is the deadline?")
	require.NoError(t, err)
	assert.Equal(t, "The answer.\nSource: handbook.pdf", body)

	req := b.last(t)
	assert.Equal(t, "/retrieve", req.Path)
	assert.Equal(t, "application/x-www-form-urlencoded", req.ContentType)
	assert.Equal(t, map[string]string{
		"email":      "student@uol.edu.pk",
		"session_id": "sess-1",
		"query":      "When is the deadline?",
	}, req.Form)
}

func TestQuery_FailureIsGeneric(t *testing.T) {
	_, c := newBackend(t, http.StatusBadGateway, "upstream index offline: stack trace ...")

	_, err := c.Query(ctx, "a@b.c", "s", "q")
	require.Error(t, err)
	assert.Equal(t, MsgQueryFailed, err.Error())
	assert.NotContains(t, err.Error(), "stack trace")
}

func TestSignIn(t *testing.T) {
	b, c := newBackend(t, http.StatusOK, `{"whatever":true}`)
	require.NoError(t, c.SignIn(ctx, "s@uol.edu.pk", "secret1"))

	req := b.last(t)
	assert.Equal(t, "/signin", req.Path)
	assert.Equal(t, "s@uol.edu.pk", req.Form["email"])
	assert.Equal(t, "secret1", req.Form["password"])

	b.setStatus(http.StatusUnauthorized)
	err := c.SignIn(ctx, "s@uol.edu.pk", "wrong")
	require.Error(t, err)
	assert.Equal(t, MsgInvalidLogin, err.Error())
}

func TestSignUp(t *testing.T) {
	b, c := newBackend(t, http.StatusCreated, "")
	require.NoError(t, c.SignUp(ctx, "new@uol.edu.pk", "secret1"))
	assert.Equal(t, "/signup", b.last(t).Path)

	b.setStatus(http.StatusConflict)
	err := c.SignUp(ctx, "new@uol.edu.pk", "secret1")
	require.Error(t, err)
	assert.Equal(t, MsgSignUpFailed, err.Error())
}

func TestCreateUser_SurfacesBackendText(t *testing.T) {
	_, c := newBackend(t, http.StatusConflict, "email already registered\n")

	err := c.CreateUser(ctx, "dup@uol.edu.pk", "secret1")
	require.Error(t, err)
	assert.Equal(t, "Failed to create user: email already registered", err.Error())
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(addr, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	calls := map[string]func() error{
		"upload": func() error { return c.Upload(ctx, "a", "f", strings.NewReader("x")) },
		"query": func() error {
			_, err := c.Query(ctx, "a", "s", "q")
			return err
		},
		"signin": func() error { return c.SignIn(ctx, "a", "b") },
		"signup": func() error { return c.SignUp(ctx, "a", "b") },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.Equal(t, MsgNetwork, err.Error())

			var kbErr *Error
			require.True(t, errors.As(err, &kbErr))
			assert.Zero(t, kbErr.Status)
			assert.NotNil(t, errors.Unwrap(err), "cause is kept for logging")
		})
	}
}

func TestNew_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("").BaseURL())
	assert.Equal(t, "http://kb.example:8000", New("http://kb.example:8000/").BaseURL())
}
