package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// KV is the persistence contract every component writes through. It mirrors
// browser local storage: whole values are read and written by key, with no
// locking between writers.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Well-known keys.
const (
	KeySession   = "user"
	KeyDocuments = "documents"
	KeyUsers     = "users"
)

// HistoryKey returns the per-user conversation transcript key.
func HistoryKey(email string) string {
	return "query-history:" + email
}
