// Package catalog keeps the local record of documents known to this
// installation. It never talks to the network; entries are added after the
// remote backend accepted an upload.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/kbdesk/internal/storage"
)

// RecentWindow is the trailing window counted by Stats.RecentUploads.
const RecentWindow = 7 * 24 * time.Hour

// Categories offered by the upload form. Any non-empty string is accepted.
var Categories = []string{
	"Academic",
	"Admissions",
	"Administration",
	"Campus Life",
	"Faculty",
	"Research",
	"Student Services",
	"Technology",
	"Other",
}

// Document is the metadata of one uploaded file.
type Document struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
}

// Metadata is what a caller supplies to Add.
type Metadata struct {
	Name        string
	Type        string
	Size        int64
	UploadedBy  string
	Category    string
	Description string
	DownloadURL string
}

// CategoryCount is one row of Stats.CategoryBreakdown.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats aggregates the catalog.
type Stats struct {
	TotalDocuments    int             `json:"totalDocuments"`
	TotalSize         int64           `json:"totalSize"`
	Categories        int             `json:"categories"`
	RecentUploads     int             `json:"recentUploads"`
	CategoryBreakdown []CategoryCount `json:"categoryBreakdown"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Catalog.
type Option func(*Catalog)

func WithClock(c Clock) Option {
	return func(cat *Catalog) { cat.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cat *Catalog) { cat.logger = l }
}

// Catalog is the document store. Build one per process with New, call Load
// once, and Flush on shutdown. Safe for concurrent use.
type Catalog struct {
	kv     storage.KV
	clock  Clock
	logger *slog.Logger

	mu   sync.RWMutex
	docs []Document // insertion order
}

func New(kv storage.KV, opts ...Option) *Catalog {
	c := &Catalog{
		kv:     kv,
		clock:  realClock{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load replaces the in-memory collection with the persisted one. A corrupt
// payload is logged and leaves the catalog empty; only storage I/O errors
// are returned.
func (c *Catalog) Load(ctx context.Context) error {
	raw, err := c.kv.Get(ctx, storage.KeyDocuments)
	if errors.Is(err, storage.ErrNotFound) {
		c.mu.Lock()
		c.docs = nil
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading documents: %w", err)
	}

	var docs []Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		c.logger.Error("failed to load documents from storage", "error", err)
		docs = nil
	}

	c.mu.Lock()
	c.docs = docs
	c.mu.Unlock()
	return nil
}

// Flush persists the current collection.
func (c *Catalog) Flush(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistLocked(ctx)
}

func (c *Catalog) persistLocked(ctx context.Context) error {
	docs := c.docs
	if docs == nil {
		docs = []Document{}
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshaling documents: %w", err)
	}
	if err := c.kv.Set(ctx, storage.KeyDocuments, string(b)); err != nil {
		return fmt.Errorf("saving documents: %w", err)
	}
	return nil
}

// Add records a new document with a fresh ID and the current time. The
// returned error only reports a persistence failure; the document is kept
// in memory either way.
func (c *Catalog) Add(ctx context.Context, m Metadata) (Document, error) {
	size := m.Size
	if size < 0 {
		size = 0
	}
	doc := Document{
		ID:          uuid.New().String(),
		Name:        m.Name,
		Type:        m.Type,
		Size:        size,
		UploadedBy:  m.UploadedBy,
		UploadedAt:  c.clock.Now(),
		Category:    m.Category,
		Description: m.Description,
		DownloadURL: m.DownloadURL,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return doc, c.persistLocked(ctx)
}

// List returns every document, most recent first.
func (c *Catalog) List() []Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(nil)
}

// Get looks a document up by ID.
func (c *Catalog) Get(id string) (Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.docs {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// Delete removes the document with the given ID. It reports false, with the
// collection untouched, when no such document exists. Authorization is the
// caller's job.
func (c *Catalog) Delete(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, d := range c.docs {
		if d.ID != id {
			continue
		}
		c.docs = append(c.docs[:i:i], c.docs[i+1:]...)
		return true, c.persistLocked(ctx)
	}
	return false, nil
}

// Search matches text case-insensitively against name, category and
// description. An empty query returns everything.
func (c *Catalog) Search(text string) []Document {
	q := strings.ToLower(text)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(func(d Document) bool {
		return strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Category), q) ||
			(d.Description != "" && strings.Contains(strings.ToLower(d.Description), q))
	})
}

// FilterByCategory returns documents whose category equals category exactly.
func (c *Catalog) FilterByCategory(category string) []Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(func(d Document) bool {
		return d.Category == category
	})
}

// Categories returns the distinct categories in use, in first-seen order.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.distinctCategoriesLocked()
}

// Stats computes aggregate figures over the whole catalog.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.clock.Now().Add(-RecentWindow)
	counts := make(map[string]int)
	var s Stats
	for _, d := range c.docs {
		s.TotalDocuments++
		s.TotalSize += d.Size
		counts[d.Category]++
		if d.UploadedAt.After(cutoff) {
			s.RecentUploads++
		}
	}

	cats := c.distinctCategoriesLocked()
	s.Categories = len(cats)
	s.CategoryBreakdown = make([]CategoryCount, 0, len(cats))
	for _, name := range cats {
		s.CategoryBreakdown = append(s.CategoryBreakdown, CategoryCount{Name: name, Count: counts[name]})
	}
	return s
}

func (c *Catalog) distinctCategoriesLocked() []string {
	seen := make(map[string]bool)
	cats := []string{}
	for _, d := range c.docs {
		if seen[d.Category] {
			continue
		}
		seen[d.Category] = true
		cats = append(cats, d.Category)
	}
	return cats
}

// sortedLocked returns the documents matching keep (all when nil), newest
// first. Equal timestamps keep the later insertion first.
func (c *Catalog) sortedLocked(keep func(Document) bool) []Document {
	out := make([]Document, 0, len(c.docs))
	for i := len(c.docs) - 1; i >= 0; i-- {
		if keep == nil || keep(c.docs[i]) {
			out = append(out, c.docs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}
