package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Sweep is a persisted snapshot of a broad work-item fetch for a project.
// The fallback tier of the report orchestrator derives its payload from the
// most recent sweep when the live path fails.
type Sweep struct {
	ID        string     `json:"id"`
	Project   string     `json:"project"`
	Items     []WorkItem `json:"items"`
	FetchedAt time.Time  `json:"fetchedAt"`
}

// Repository persists sweep snapshots.
type Repository interface {
	// SaveSweep stores a snapshot.
	SaveSweep(ctx context.Context, sweep *Sweep) error

	// GetLatestSweep returns the most recent snapshot for a project.
	// Returns ErrNotFound when the project has never been swept.
	GetLatestSweep(ctx context.Context, project string) (*Sweep, error)

	// ListSweeps returns snapshot metadata for a project, newest first,
	// without the item payloads.
	ListSweeps(ctx context.Context, project string, limit int) ([]*Sweep, error)

	// PruneSweeps deletes snapshots older than the cutoff.
	PruneSweeps(ctx context.Context, project string, olderThan time.Time) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for snapshot store initialization.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string

	// SQLite settings
	SQLitePath string

	// PostgreSQL settings
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
