package storage

import (
	"context"
	"errors"
	"testing"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", "idx_kv_updated_at").Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 1 {
		t.Errorf("index idx_kv_updated_at not found")
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_kv_updated_index.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}

	if _, err := parseMigrationVersion("kv.sql"); err == nil {
		t.Error("expected error for filename without version prefix")
	}
}

// TestPersistsAcrossReopen writes through one Store and reads through another
// opened on the same directory.
func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Set(ctx, KeyDocuments, `[{"id":"1"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, KeyDocuments)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `[{"id":"1"}]` {
		t.Errorf("Get = %q", got)
	}
}

func TestHistoryKey(t *testing.T) {
	if got := HistoryKey("a@uol.edu.pk"); got != "query-history:a@uol.edu.pk" {
		t.Errorf("HistoryKey = %q", got)
	}
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := OpenBackend(ctx, BackendOptions{Backend: "etcd"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	kv, err := OpenBackend(ctx, BackendOptions{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer kv.Close()
	if _, ok := kv.(*Memory); !ok {
		t.Errorf("OpenBackend(memory) = %T, want *Memory", kv)
	}
}

// kvContract is shared by every KV implementation.
func kvContract(t *testing.T, kv KV) {
	t.Helper()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}

	if err := kv.Set(ctx, KeySession, `{"email":"a@b.c"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kv.Get(ctx, KeySession)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `{"email":"a@b.c"}` {
		t.Errorf("Get = %q", got)
	}

	if err := kv.Set(ctx, KeySession, "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := kv.Get(ctx, KeySession); got != "second" {
		t.Errorf("after overwrite Get = %q, want %q", got, "second")
	}

	if err := kv.Remove(ctx, KeySession); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := kv.Get(ctx, KeySession); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove err = %v, want ErrNotFound", err)
	}

	if err := kv.Remove(ctx, "never-set"); err != nil {
		t.Errorf("Remove(missing) = %v, want nil", err)
	}
}

func TestSQLiteKVContract(t *testing.T) {
	kvContract(t, openTestStore(t))
}

func TestMemoryKVContract(t *testing.T) {
	kvContract(t, NewMemory())
}
