package storage

import (
	"context"
	"errors"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
)

// Common errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("pair store closed")
)

// PairStore persists paired sessions across restarts.
//
// Records are keyed by their secret, which is unique across active
// pairings. List returns every record so callers can rebuild their
// in-memory indexes at startup.
type PairStore interface {
	// Put writes or overwrites one pairing record.
	Put(ctx context.Context, s *domain.PairedSession) error

	// Delete removes the record for the given secret. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, secret string) error

	// Get retrieves the record for the given secret.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, secret string) (*domain.PairedSession, error)

	// List returns all pairing records.
	List(ctx context.Context) ([]*domain.PairedSession, error)

	// Close releases the underlying storage.
	Close() error
}

// Config configures the pairing store.
type Config struct {
	// Dir is the Badger data directory.
	Dir string `koanf:"dir"`

	// GCInterval is how often the value log garbage collector runs.
	GCInterval string `koanf:"gc_interval"`

	// GCThreshold is the value log rewrite threshold (0..1).
	GCThreshold float64 `koanf:"gc_threshold"`

	// SyncWrites forces fsync on every write. Pairing events are rare
	// and losing one means re-pairing, so this defaults to on.
	SyncWrites bool `koanf:"sync_writes"`

	// InMemory runs Badger without touching disk. Test use only.
	InMemory bool `koanf:"-"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Dir:         "/var/lib/mesh2gram",
		GCInterval:  "10m",
		GCThreshold: 0.5,
		SyncWrites:  true,
	}
}
