// Package repository persists sweep snapshots for the fallback report tier.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teamlens/kestrel/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSweep stores a sweep snapshot. A missing ID is assigned, a missing
// FetchedAt defaults to now.
func (r *SQLRepository) SaveSweep(ctx context.Context, sweep *domain.Sweep) error {
	if sweep.Project == "" {
		return fmt.Errorf("%w: project is required", ErrInvalidInput)
	}

	if sweep.ID == "" {
		sweep.ID = uuid.NewString()
	}
	if sweep.FetchedAt.IsZero() {
		sweep.FetchedAt = time.Now().UTC()
	}

	items, err := json.Marshal(sweep.Items)
	if err != nil {
		return fmt.Errorf("failed to encode sweep items: %w", err)
	}

	query := `
		INSERT INTO sweeps (id, project, items, item_count, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		sweep.ID, sweep.Project, string(items), len(sweep.Items), sweep.FetchedAt,
	)
	return err
}

// GetLatestSweep retrieves the most recent snapshot for a project.
func (r *SQLRepository) GetLatestSweep(ctx context.Context, project string) (*domain.Sweep, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: project is required", ErrInvalidInput)
	}

	query := `
		SELECT id, project, items, fetched_at
		FROM sweeps
		WHERE project = ?
		ORDER BY fetched_at DESC
		LIMIT 1
	`

	var sweep domain.Sweep
	var items string

	err := r.db.QueryRowContext(ctx, r.rebind(query), project).Scan(
		&sweep.ID, &sweep.Project, &items, &sweep.FetchedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(items), &sweep.Items); err != nil {
		return nil, fmt.Errorf("failed to parse sweep items for %s: %w", sweep.ID, err)
	}

	return &sweep, nil
}

// ListSweeps retrieves snapshot metadata for a project, newest first.
// Item payloads are not loaded.
func (r *SQLRepository) ListSweeps(ctx context.Context, project string, limit int) ([]*domain.Sweep, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: project is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, project, fetched_at
		FROM sweeps
		WHERE project = ?
		ORDER BY fetched_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sweeps []*domain.Sweep
	for rows.Next() {
		var sweep domain.Sweep
		if err := rows.Scan(&sweep.ID, &sweep.Project, &sweep.FetchedAt); err != nil {
			return nil, err
		}
		sweeps = append(sweeps, &sweep)
	}

	return sweeps, rows.Err()
}

// PruneSweeps deletes snapshots older than the cutoff.
func (r *SQLRepository) PruneSweeps(ctx context.Context, project string, olderThan time.Time) (int, error) {
	if project == "" {
		return 0, fmt.Errorf("%w: project is required", ErrInvalidInput)
	}

	query := `
		DELETE FROM sweeps
		WHERE project = ? AND fetched_at < ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), project, olderThan)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
