package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by OpenBackend.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// BackendOptions selects and configures a KV implementation.
type BackendOptions struct {
	Backend string
	DataDir string
	Redis   RedisOptions
}

// OpenBackend opens the KV named by opts.Backend. An empty name means SQLite.
func OpenBackend(ctx context.Context, opts BackendOptions) (KV, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return Open(opts.DataDir)
	case BackendRedis:
		return NewRedis(ctx, opts.Redis)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want sqlite, redis or memory)", opts.Backend)
	}
}
