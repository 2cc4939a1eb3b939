// Package kbclient talks to the remote knowledge-base backend. Every call
// normalises its outcome: success, or an *Error whose message is safe to
// show to the user.
package kbclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const DefaultBaseURL = "http://localhost:8000"

// User-facing failure messages.
const (
	MsgNetwork        = "Network error. Please try again."
	MsgUploadFailed   = "Failed to upload document"
	MsgQueryFailed    = "Failed to query knowledge base"
	MsgInvalidLogin   = "Invalid credentials"
	MsgSignUpFailed   = "Registration failed"
	msgCreateUserFail = "Failed to create user: "
)

// Error is a normalised backend failure. Error() is the user-facing
// message; the underlying cause is only reachable through Unwrap.
type Error struct {
	Op      string // "upload", "retrieve", "signin", "signup"
	Message string
	Status  int // 0 for transport failures
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Client communicates with the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. No timeout is set by
// default; pass a client with one to bound calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the backend at baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend address in use.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload sends a file as multipart form data with the uploader's email.
func (c *Client) Upload(ctx context.Context, email, filename string, file io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("email", email); err != nil {
		return c.transportError("upload", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return c.transportError("upload", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return c.transportError("upload", fmt.Errorf("reading %s: %w", filename, err))
	}
	if err := mw.Close(); err != nil {
		return c.transportError("upload", err)
	}

	_, err = c.post(ctx, "upload", "/upload", mw.FormDataContentType(), &buf, MsgUploadFailed)
	return err
}

// Query asks the knowledge base a question and returns the raw response
// body. The body is free text; see package citation for parsing.
func (c *Client) Query(ctx context.Context, email, sessionID, query string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("session_id", sessionID)
	form.Set("query", query)

	body, err := c.postForm(ctx, "retrieve", "/retrieve", form, MsgQueryFailed)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// SignIn checks credentials against the backend. The response body is not
// interpreted.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	_, err := c.postForm(ctx, "signin", "/signin", credentials(email, password), MsgInvalidLogin)
	return err
}

// SignUp registers a new account.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	_, err := c.postForm(ctx, "signup", "/signup", credentials(email, password), MsgSignUpFailed)
	return err
}

// CreateUser registers an account on behalf of an administrator. Unlike
// SignUp, a rejection carries the backend's response text.
func (c *Client) CreateUser(ctx context.Context, email, password string) error {
	_, err := c.postForm(ctx, "signup", "/signup", credentials(email, password), "")
	return err
}

func credentials(email, password string) url.Values {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	return form
}

func (c *Client) postForm(ctx context.Context, op, path string, form url.Values, failMsg string) ([]byte, error) {
	return c.post(ctx, op, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), failMsg)
}

// post performs the request and returns the body on a 2xx status. When
// failMsg is empty a rejection reports the response body instead.
func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader, failMsg string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, c.transportError(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(op, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cause := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		c.logger.Warn("backend rejected request", "op", op, "status", resp.StatusCode)
		msg := failMsg
		if msg == "" {
			msg = msgCreateUserFail + strings.TrimSpace(string(respBody))
		}
		return nil, &Error{Op: op, Message: msg, Status: resp.StatusCode, Cause: cause}
	}
	return respBody, nil
}

func (c *Client) transportError(op string, cause error) error {
	c.logger.Error("backend request failed", "op", op, "error", cause)
	return &Error{Op: op, Message: MsgNetwork, Cause: cause}
}
