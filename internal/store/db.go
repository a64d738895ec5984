// Package store backs the three tables the convergence engine core reads
// and writes (spec §6: resource, stack, sync_point) with Postgres via
// sqlx/lib-pq, giving the CAS columns (engine_id, current_template_id,
// current_traversal, atomic_key) real compare-and-swap semantics through
// conditional UPDATE ... WHERE clauses.
package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver, registered under "postgres"
)

// DB wraps the sqlx handle shared by the resource, stack, and sync-point
// repositories.
type DB struct {
	*sqlx.DB
}

// Open connects to Postgres at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	return &DB{DB: conn}, nil
}

// Schema is the DDL for the three tables the core depends on (spec §6).
// Migrations beyond these columns are an external collaborator's
// concern; this is only enough for the core to function standalone
// (e.g. in integration tests against a real Postgres).
const Schema = `
CREATE TABLE IF NOT EXISTS resource (
	id                  BIGSERIAL PRIMARY KEY,
	stack_id            TEXT NOT NULL,
	name                TEXT NOT NULL,
	type                TEXT NOT NULL DEFAULT '',
	action              TEXT NOT NULL,
	status              TEXT NOT NULL,
	status_reason       TEXT NOT NULL DEFAULT '',
	current_template_id BIGINT NOT NULL DEFAULT 0,
	engine_id           TEXT NOT NULL DEFAULT '',
	replaces            BIGINT NOT NULL DEFAULT 0,
	replaced_by         BIGINT NOT NULL DEFAULT 0,
	requires            BIGINT[] NOT NULL DEFAULT '{}',
	attributes          JSONB NOT NULL DEFAULT '{}',
	reference_id        TEXT NOT NULL DEFAULT '',
	uuid                TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS stack (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	action               TEXT NOT NULL,
	status               TEXT NOT NULL,
	status_reason        TEXT NOT NULL DEFAULT '',
	current_traversal    TEXT NOT NULL,
	prev_raw_template_id BIGINT NOT NULL DEFAULT 0,
	raw_template_id      BIGINT NOT NULL DEFAULT 0,
	disable_rollback     BOOLEAN NOT NULL DEFAULT FALSE,
	timeout_mins         INT NOT NULL DEFAULT 0,
	created_time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	convergence          BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS stack_graph (
	stack_id     TEXT PRIMARY KEY,
	traversal_id TEXT NOT NULL,
	edges        JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS sync_point (
	entity_id    TEXT NOT NULL,
	traversal_id TEXT NOT NULL,
	is_update    BOOLEAN NOT NULL,
	stack_id     TEXT NOT NULL,
	atomic_key   BIGINT NOT NULL DEFAULT 0,
	input_data   JSONB NOT NULL DEFAULT '{}',
	extra_data   JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (entity_id, traversal_id, is_update)
);
`
