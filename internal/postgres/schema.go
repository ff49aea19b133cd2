package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DDL is the schema owned by the coverage engine. Every statement is
// idempotent so EnsureSchema can run on every startup.
const DDL = `
CREATE TABLE IF NOT EXISTS datasources (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS collections (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS identifiers (
    id    BIGSERIAL PRIMARY KEY,
    type  TEXT NOT NULL,
    value TEXT NOT NULL,
    UNIQUE (type, value)
);

CREATE TABLE IF NOT EXISTS collection_identifiers (
    collection_id BIGINT NOT NULL REFERENCES collections (id),
    identifier_id BIGINT NOT NULL REFERENCES identifiers (id),
    PRIMARY KEY (collection_id, identifier_id)
);

CREATE TABLE IF NOT EXISTS coveragerecords (
    id             BIGSERIAL PRIMARY KEY,
    identifier_id  BIGINT NOT NULL REFERENCES identifiers (id),
    data_source_id BIGINT NOT NULL REFERENCES datasources (id),
    operation      TEXT NOT NULL DEFAULT '',
    collection_id  BIGINT REFERENCES collections (id),
    status         TEXT NOT NULL,
    timestamp      TIMESTAMPTZ NOT NULL,
    exception      TEXT NOT NULL DEFAULT ''
);

-- A NULL collection_id participates in the uniqueness key as -1 so the
-- at-most-one-record-per-key invariant also holds for global records.
CREATE UNIQUE INDEX IF NOT EXISTS ix_coveragerecords_key
    ON coveragerecords (identifier_id, data_source_id, operation, COALESCE(collection_id, -1));

CREATE INDEX IF NOT EXISTS ix_coveragerecords_identifier
    ON coveragerecords (identifier_id);

CREATE TABLE IF NOT EXISTS timestamps (
    id            BIGSERIAL PRIMARY KEY,
    service       TEXT NOT NULL,
    service_type  TEXT NOT NULL DEFAULT '',
    collection_id BIGINT REFERENCES collections (id),
    start         TIMESTAMPTZ,
    finish        TIMESTAMPTZ,
    achievements  TEXT NOT NULL DEFAULT '',
    counter       BIGINT NOT NULL DEFAULT 0,
    exception     TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS ix_timestamps_key
    ON timestamps (service, service_type, COALESCE(collection_id, -1));
`

// EnsureSchema creates the engine's tables and indexes if they do not
// exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, DDL)
	return err
}
