package repository

// Schema definitions for the sweep snapshot store.
// Compatible with both SQLite and PostgreSQL.

const schemaSweeps = `
CREATE TABLE IF NOT EXISTS sweeps (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    items TEXT NOT NULL,
    item_count INTEGER NOT NULL DEFAULT 0,
    fetched_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sweeps_project ON sweeps(project);
CREATE INDEX IF NOT EXISTS idx_sweeps_fetched ON sweeps(project, fetched_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSweeps,
	}
}
