package ledger

import (
	"context"
	"fmt"
)

// Backends understood by Open.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and locates a store.
type Options struct {
	Backend     string
	Path        string // bolt and sqlite file
	DatabaseURL string // postgres
}

// Open builds the store for the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt:
		return NewBoltStore(opts.Path)
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.Path)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres ledger requires a database URL")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
}
