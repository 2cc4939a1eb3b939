// Package desk is the application layer shared by the CLI, the HTTP console
// and the MCP server. Validation and authorization happen here, before any
// component is mutated.
package desk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kalambet/kbdesk/internal/catalog"
	"github.com/kalambet/kbdesk/internal/conversation"
	"github.com/kalambet/kbdesk/internal/session"
	"github.com/kalambet/kbdesk/internal/users"
)

const defaultContentType = "application/octet-stream"

var (
	ErrUploadIncomplete = errors.New("Please select a file and category")
	ErrDocumentNotFound = errors.New("Could not delete the document.")
)

// Uploader sends file bytes to the knowledge base.
type Uploader interface {
	Upload(ctx context.Context, email, filename string, file io.Reader) error
}

// Deps are the components a Desk is assembled from.
type Deps struct {
	Holder       *session.Holder
	Auth         *session.Authenticator
	Catalog      *catalog.Catalog
	Uploader     Uploader
	Conversation *conversation.Service
	Users        *users.Directory
	Logger       *slog.Logger
}

// Desk exposes every user-level operation.
type Desk struct {
	holder   *session.Holder
	auth     *session.Authenticator
	catalog  *catalog.Catalog
	uploader Uploader
	conv     *conversation.Service
	users    *users.Directory
	logger   *slog.Logger
}

func New(d Deps) *Desk {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Desk{
		holder:   d.Holder,
		auth:     d.Auth,
		catalog:  d.Catalog,
		uploader: d.Uploader,
		conv:     d.Conversation,
		users:    d.Users,
		logger:   logger,
	}
}

// --- session ---

// Authenticate checks credentials without touching the persisted session.
func (d *Desk) Authenticate(ctx context.Context, email, password string) (session.User, error) {
	return d.auth.SignIn(ctx, email, password)
}

// Register creates a backend account without touching the persisted session.
func (d *Desk) Register(ctx context.Context, email, password string) (session.User, error) {
	return d.auth.SignUp(ctx, email, password)
}

// SignIn authenticates and persists the resulting session.
func (d *Desk) SignIn(ctx context.Context, email, password string) (session.User, error) {
	u, err := d.auth.SignIn(ctx, email, password)
	if err != nil {
		return session.User{}, err
	}
	return u, d.holder.Save(ctx, u)
}

// SignUp registers and persists the resulting session.
func (d *Desk) SignUp(ctx context.Context, email, password string) (session.User, error) {
	u, err := d.auth.SignUp(ctx, email, password)
	if err != nil {
		return session.User{}, err
	}
	return u, d.holder.Save(ctx, u)
}

func (d *Desk) SignOut(ctx context.Context) error {
	return d.holder.SignOut(ctx)
}

// CurrentUser returns the persisted session user, or nil.
func (d *Desk) CurrentUser(ctx context.Context) (*session.User, error) {
	return d.holder.Current(ctx)
}

// --- documents ---

// UploadRequest describes a file to upload. Size and Type are derived from
// the content when zero.
type UploadRequest struct {
	Filename    string
	Content     io.Reader
	Size        int64
	Type        string
	Category    string
	Description string
}

// Upload sends the file to the backend and records it in the catalog once
// the backend accepted it. The returned document may accompany a non-nil
// error when only local persistence failed.
func (d *Desk) Upload(ctx context.Context, u *session.User, req UploadRequest) (catalog.Document, error) {
	name := filepath.Base(strings.TrimSpace(req.Filename))
	if req.Content == nil || name == "" || name == "." || strings.TrimSpace(req.Category) == "" {
		return catalog.Document{}, ErrUploadIncomplete
	}
	if err := session.RequireAdmin(u, "upload documents"); err != nil {
		return catalog.Document{}, err
	}

	body := bufio.NewReader(req.Content)
	ctype := req.Type
	if ctype == "" {
		ctype = detectType(name, body)
	}
	counter := &countingReader{r: body}

	if err := d.uploader.Upload(ctx, u.Email, name, counter); err != nil {
		return catalog.Document{}, err
	}

	size := req.Size
	if size <= 0 {
		size = counter.n
	}

	doc, err := d.catalog.Add(ctx, catalog.Metadata{
		Name:        name,
		Type:        ctype,
		Size:        size,
		UploadedBy:  u.Email,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		d.logger.Error("document uploaded but catalog not saved", "name", name, "error", err)
		return doc, err
	}
	d.logger.Info("document uploaded", "id", doc.ID, "name", name, "by", u.Email)
	return doc, nil
}

// Documents lists the catalog, narrowed by a free-text query and an exact
// category when given.
func (d *Desk) Documents(u *session.User, query, category string) ([]catalog.Document, error) {
	if err := session.RequireUser(u); err != nil {
		return nil, err
	}

	docs := d.catalog.Search(strings.TrimSpace(query))
	if category == "" {
		return docs, nil
	}
	out := docs[:0]
	for _, doc := range docs {
		if doc.Category == category {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *Desk) Stats(u *session.User) (catalog.Stats, error) {
	if err := session.RequireUser(u); err != nil {
		return catalog.Stats{}, err
	}
	return d.catalog.Stats(), nil
}

func (d *Desk) Categories(u *session.User) ([]string, error) {
	if err := session.RequireUser(u); err != nil {
		return nil, err
	}
	return d.catalog.Categories(), nil
}

// DeleteDocument removes a catalog entry. The backend copy is not touched.
func (d *Desk) DeleteDocument(ctx context.Context, u *session.User, id string) error {
	if err := session.RequireAdmin(u, "delete documents"); err != nil {
		return err
	}

	found, err := d.catalog.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if !found {
		return ErrDocumentNotFound
	}
	d.logger.Info("document deleted", "id", id, "by", u.Email)
	return nil
}

// --- users ---

func (d *Desk) Users(ctx context.Context, u *session.User) ([]users.Account, error) {
	if err := session.RequireAdmin(u, "manage users"); err != nil {
		return nil, err
	}
	return d.users.List(ctx)
}

func (d *Desk) AddUser(ctx context.Context, u *session.User, email, password string, role session.Role) (users.Account, error) {
	if err := session.RequireAdmin(u, "manage users"); err != nil {
		return users.Account{}, err
	}
	return d.users.Add(ctx, email, password, role)
}

func (d *Desk) DeleteUser(ctx context.Context, u *session.User, id string) error {
	if err := session.RequireAdmin(u, "manage users"); err != nil {
		return err
	}
	return d.users.Delete(ctx, id)
}

// --- conversation ---

func (d *Desk) Ask(ctx context.Context, u *session.User, text string) (conversation.Message, error) {
	return d.conv.Ask(ctx, u, text)
}

func (d *Desk) Retry(ctx context.Context, u *session.User, messageID string) (conversation.Message, error) {
	return d.conv.Retry(ctx, u, messageID)
}

func (d *Desk) History(ctx context.Context, u *session.User) ([]conversation.Message, error) {
	if err := session.RequireUser(u); err != nil {
		return nil, err
	}
	return d.conv.History(ctx, u.Email)
}

func (d *Desk) ClearHistory(ctx context.Context, u *session.User) error {
	if err := session.RequireUser(u); err != nil {
		return err
	}
	return d.conv.Clear(ctx, u.Email)
}

// detectType guesses a MIME type from the file extension, then from the
// first bytes of content.
func detectType(name string, body *bufio.Reader) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		if base, _, err := mime.ParseMediaType(t); err == nil {
			return base
		}
		return t
	}
	head, _ := body.Peek(512)
	if len(head) == 0 {
		return defaultContentType
	}
	t := http.DetectContentType(head)
	if base, _, err := mime.ParseMediaType(t); err == nil {
		return base
	}
	return defaultContentType
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
