package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/kbdesk/internal/storage"
)

var ctx = context.Background()

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCatalog(t *testing.T) (*Catalog, *fakeClock, storage.KV) {
	t.Helper()
	kv := storage.NewMemory()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(kv, WithClock(clock), WithLogger(quiet))
	require.NoError(t, c.Load(ctx))
	return c, clock, kv
}

func addDoc(t *testing.T, c *Catalog, name, category, description string) Document {
	t.Helper()
	d, err := c.Add(ctx, Metadata{
		Name:        name,
		Type:        "application/pdf",
		Size:        1024,
		UploadedBy:  "admin@uol.edu.pk",
		Category:    category,
		Description: description,
	})
	require.NoError(t, err)
	return d
}

func TestAdd_AssignsIDAndTimestamp(t *testing.T) {
	c, clock, _ := newTestCatalog(t)

	d := addDoc(t, c, "handbook.pdf", "Academic", "")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, clock.now, d.UploadedAt)
	assert.Equal(t, "handbook.pdf", d.Name)

	d2 := addDoc(t, c, "handbook.pdf", "Academic", "")
	assert.NotEqual(t, d.ID, d2.ID, "ids must be unique")
}

func TestAdd_NegativeSizeClamped(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	d, err := c.Add(ctx, Metadata{Name: "x", Category: "Other", Size: -5})
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Size)
}

func TestList_NewestFirst(t *testing.T) {
	c, clock, _ := newTestCatalog(t)

	a := addDoc(t, c, "a.pdf", "Academic", "")
	clock.Advance(time.Hour)
	b := addDoc(t, c, "b.pdf", "Academic", "")
	clock.Advance(time.Minute)
	d := addDoc(t, c, "c.pdf", "Research", "")

	got := c.List()
	require.Len(t, got, 3)
	assert.Equal(t, []string{d.ID, b.ID, a.ID}, ids(got))

	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].UploadedAt.After(got[i-1].UploadedAt), "list must be non-increasing")
	}
}

func TestList_TiesKeepLatestInsertionFirst(t *testing.T) {
	c, _, _ := newTestCatalog(t)

	a := addDoc(t, c, "a.pdf", "Academic", "")
	b := addDoc(t, c, "b.pdf", "Academic", "")

	assert.Equal(t, []string{b.ID, a.ID}, ids(c.List()))
}

func TestDelete(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	a := addDoc(t, c, "a.pdf", "Academic", "")
	addDoc(t, c, "b.pdf", "Academic", "")

	removed, err := c.Delete(ctx, "no-such-id")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, c.List(), 2)

	removed, err = c.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Len(t, c.List(), 1)

	removed, err = c.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, removed, "second delete of the same id is a miss")

	_, ok := c.Get(a.ID)
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	c, clock, _ := newTestCatalog(t)
	handbook := addDoc(t, c, "Student Handbook.pdf", "Academic", "")
	clock.Advance(time.Second)
	fees := addDoc(t, c, "fees-2025.xlsx", "Administration", "Tuition and HOSTEL charges")
	clock.Advance(time.Second)
	research := addDoc(t, c, "grants.docx", "Research", "")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"name case-insensitive", "HANDBOOK", []string{handbook.ID}},
		{"category", "research", []string{research.ID}},
		{"description", "hostel", []string{fees.ID}},
		{"description mixed case", "Tuition AND", []string{fees.ID}},
		{"ordering newest first", ".", []string{research.ID, fees.ID, handbook.ID}},
		{"empty query returns all", "", []string{research.ID, fees.ID, handbook.ID}},
		{"no match", "zzz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(c.Search(tt.query)))
		})
	}
}

func TestFilterByCategory_ExactMatch(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	a := addDoc(t, c, "a.pdf", "Campus Life", "")
	addDoc(t, c, "b.pdf", "Campus", "")

	assert.Equal(t, []string{a.ID}, ids(c.FilterByCategory("Campus Life")))
	assert.Empty(t, c.FilterByCategory("campus life"))
}

func TestCategories_FirstSeenOrder(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	addDoc(t, c, "a", "Research", "")
	addDoc(t, c, "b", "Academic", "")
	addDoc(t, c, "c", "Research", "")

	assert.Equal(t, []string{"Research", "Academic"}, c.Categories())
}

func TestStats(t *testing.T) {
	c, clock, _ := newTestCatalog(t)

	// Eight days old: outside the window.
	addDoc(t, c, "old.pdf", "Academic", "")
	clock.Advance(8*24*time.Hour - time.Hour)
	// One hour old once the clock is advanced below.
	addDoc(t, c, "new.pdf", "Research", "")
	addDoc(t, c, "new2.pdf", "Academic", "")
	clock.Advance(time.Hour)

	s := c.Stats()
	assert.Equal(t, 3, s.TotalDocuments)
	assert.Equal(t, len(c.List()), s.TotalDocuments)
	assert.Equal(t, int64(3*1024), s.TotalSize)
	assert.Equal(t, 2, s.Categories)
	assert.Equal(t, 2, s.RecentUploads)
	assert.Equal(t, []CategoryCount{{Name: "Academic", Count: 2}, {Name: "Research", Count: 1}}, s.CategoryBreakdown)
}

func TestStats_WindowBoundaryIsExclusive(t *testing.T) {
	c, clock, _ := newTestCatalog(t)
	addDoc(t, c, "edge.pdf", "Academic", "")
	clock.Advance(RecentWindow)

	assert.Equal(t, 0, c.Stats().RecentUploads)
}

func TestStats_Empty(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	s := c.Stats()
	assert.Zero(t, s.TotalDocuments)
	assert.NotNil(t, s.CategoryBreakdown)
	assert.Empty(t, s.CategoryBreakdown)
}

func TestPersistAndReload_RoundTrip(t *testing.T) {
	c, clock, kv := newTestCatalog(t)
	addDoc(t, c, "a.pdf", "Academic", "first")
	clock.Advance(90 * time.Minute)
	addDoc(t, c, "b.pdf", "Research", "")

	reloaded := New(kv, WithClock(clock))
	require.NoError(t, reloaded.Load(ctx))

	want, got := c.List(), reloaded.List()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.True(t, want[i].UploadedAt.Equal(got[i].UploadedAt), "timestamps survive round trip")
		assert.Equal(t, want[i].Description, got[i].Description)
	}
}

func TestLoad_CorruptPayloadLeavesCatalogEmpty(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, storage.KeyDocuments, "{not json"))

	c := New(kv, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, c.Load(ctx))
	assert.Empty(t, c.List())
}

type failingKV struct{ storage.KV }

func (failingKV) Get(context.Context, string) (string, error) { return "", errors.New("disk on fire") }

func (failingKV) Set(context.Context, string, string) error { return errors.New("quota exceeded") }

func TestLoad_StorageErrorIsReturned(t *testing.T) {
	c := New(failingKV{storage.NewMemory()})
	assert.Error(t, c.Load(ctx))
}

func TestAdd_PersistFailureKeepsRecord(t *testing.T) {
	c := New(failingKV{storage.NewMemory()})
	d, err := c.Add(ctx, Metadata{Name: "a", Category: "Other"})
	assert.Error(t, err)
	_, ok := c.Get(d.ID)
	assert.True(t, ok)
}

func ids(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
