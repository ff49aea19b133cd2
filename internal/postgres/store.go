package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/coverage"
)

// Store is the Postgres implementation of the engine's persistence
// ports: coverage.RecordStore, coverage.Catalog and
// coverage.TimestampStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("postgres")
	return s
}

var (
	_ coverage.RecordStore    = (*Store)(nil)
	_ coverage.Catalog        = (*Store)(nil)
	_ coverage.TimestampStore = (*Store)(nil)
)

// EnsureDataSource creates the named data source if it does not exist
// and returns its id. Provider initialization calls this so that
// outcome writes never race source creation mid-run.
func (s *Store) EnsureDataSource(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, errors.New("data source name must not be empty")
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO datasources (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&id)
	return id, err
}

// EnsureCollection creates the named collection if it does not exist
// and returns its id.
func (s *Store) EnsureCollection(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, errors.New("collection name must not be empty")
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO collections (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&id)
	return id, err
}

// EnsureIdentifier adds the identifier to the catalog if absent and
// returns its id.
func (s *Store) EnsureIdentifier(ctx context.Context, item coverage.Identifier) (int64, error) {
	return s.ensureIdentifier(ctx, s.pool, item)
}

func (s *Store) ensureIdentifier(ctx context.Context, q rowQueryer, item coverage.Identifier) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO identifiers (type, value) VALUES ($1, $2)
		ON CONFLICT (type, value) DO UPDATE SET type = EXCLUDED.type
		RETURNING id`, item.Type, item.Value).Scan(&id)
	return id, err
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AddToCollection records collection membership for an identifier,
// creating both the identifier and the collection as needed.
func (s *Store) AddToCollection(ctx context.Context, item coverage.Identifier, collection string) error {
	identifierID, err := s.EnsureIdentifier(ctx, item)
	if err != nil {
		return err
	}
	collectionID, err := s.EnsureCollection(ctx, collection)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO collection_identifiers (collection_id, identifier_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, collectionID, identifierID)
	return err
}

// dataSourceID resolves a data source name. With autocreate false a
// missing source is an error.
func (s *Store) dataSourceID(ctx context.Context, q rowQueryer, name string, autocreate bool) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM datasources WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		if !autocreate {
			return 0, fmt.Errorf("unknown data source %q", name)
		}
		err = q.QueryRow(ctx, `
			INSERT INTO datasources (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, name).Scan(&id)
	}
	return id, err
}

// collectionID resolves a collection name to a nullable id. The empty
// name means "no collection" and maps to NULL.
func (s *Store) collectionID(ctx context.Context, q rowQueryer, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO collections (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Store) Lookup(ctx context.Context, item coverage.Identifier, dataSource, operation, collection string) (*coverage.Record, error) {
	const q = `
		SELECT cr.status, cr.timestamp, cr.exception
		FROM coveragerecords cr
		JOIN identifiers i ON i.id = cr.identifier_id
		JOIN datasources d ON d.id = cr.data_source_id
		LEFT JOIN collections c ON c.id = cr.collection_id
		WHERE i.type = $1 AND i.value = $2
		  AND d.name = $3 AND cr.operation = $4
		  AND c.name IS NOT DISTINCT FROM NULLIF($5, '')`

	record := coverage.Record{
		Identifier: item,
		DataSource: dataSource,
		Operation:  operation,
		Collection: collection,
	}
	err := s.pool.QueryRow(ctx, q, item.Type, item.Value, dataSource, operation, collection).
		Scan(&record.Status, &record.Timestamp, &record.Exception)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) Upsert(ctx context.Context, item coverage.Identifier, spec coverage.UpsertSpec) (coverage.Record, bool, error) {
	records, _, err := s.bulkUpsert(ctx, []coverage.Identifier{item}, spec, true)
	if err != nil {
		return coverage.Record{}, false, err
	}
	return records[0].record, records[0].created, nil
}

func (s *Store) BulkUpsert(ctx context.Context, items []coverage.Identifier, spec coverage.UpsertSpec) ([]coverage.Record, []coverage.Identifier, error) {
	written, skipped, err := s.bulkUpsert(ctx, items, spec, spec.Force)
	if err != nil {
		return nil, nil, err
	}
	records := make([]coverage.Record, 0, len(written))
	for _, w := range written {
		records = append(records, w.record)
	}
	return records, skipped, nil
}

type upsertResult struct {
	record  coverage.Record
	created bool
}

func (s *Store) bulkUpsert(ctx context.Context, items []coverage.Identifier, spec coverage.UpsertSpec, overwrite bool) ([]upsertResult, []coverage.Identifier, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	dsID, err := s.dataSourceID(ctx, tx, spec.DataSource, spec.AutocreateSource)
	if err != nil {
		return nil, nil, err
	}
	collID, err := s.collectionID(ctx, tx, spec.Collection)
	if err != nil {
		return nil, nil, err
	}

	ts := spec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	const insertSkip = `
		INSERT INTO coveragerecords (identifier_id, data_source_id, operation, collection_id, status, timestamp, exception)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identifier_id, data_source_id, operation, COALESCE(collection_id, -1))
		DO NOTHING
		RETURNING id`

	const insertOverwrite = `
		INSERT INTO coveragerecords (identifier_id, data_source_id, operation, collection_id, status, timestamp, exception)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identifier_id, data_source_id, operation, COALESCE(collection_id, -1))
		DO UPDATE SET status = EXCLUDED.status,
		              timestamp = EXCLUDED.timestamp,
		              exception = EXCLUDED.exception
		RETURNING id, (xmax = 0)`

	var (
		written []upsertResult
		skipped []coverage.Identifier
	)
	for _, item := range items {
		identifierID, err := s.ensureIdentifier(ctx, tx, item)
		if err != nil {
			return nil, nil, err
		}

		record := coverage.Record{
			Identifier: item,
			DataSource: spec.DataSource,
			Operation:  spec.Operation,
			Collection: spec.Collection,
			Status:     spec.Status,
			Timestamp:  ts,
			Exception:  spec.Exception,
		}

		if overwrite {
			var (
				id      int64
				created bool
			)
			err = tx.QueryRow(ctx, insertOverwrite,
				identifierID, dsID, spec.Operation, collID, spec.Status, ts, spec.Exception,
			).Scan(&id, &created)
			if err != nil {
				return nil, nil, err
			}
			written = append(written, upsertResult{record: record, created: created})
			continue
		}

		var id int64
		err = tx.QueryRow(ctx, insertSkip,
			identifierID, dsID, spec.Operation, collID, spec.Status, ts, spec.Exception,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			skipped = append(skipped, item)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		written = append(written, upsertResult{record: record, created: true})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	s.logger.Debug("bulk upsert",
		zap.String("data_source", spec.DataSource),
		zap.String("operation", spec.Operation),
		zap.Int("written", len(written)),
		zap.Int("skipped", len(skipped)),
	)
	return written, skipped, nil
}

// NeedingCoverage returns catalog identifiers without a covering
// record, ordered by identifiers.id so the offset cursor is stable
// across calls.
func (s *Store) NeedingCoverage(ctx context.Context, q coverage.Query) ([]coverage.Identifier, error) {
	clauses := []string{"1=1"}
	args := []any{}
	argn := 1

	next := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", argn)
		argn++
		return p
	}

	if len(q.IdentifierTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("i.type = ANY(%s)", next(q.IdentifierTypes)))
	}

	if q.MemberOf != "" {
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM collection_identifiers ci
			JOIN collections mc ON mc.id = ci.collection_id
			WHERE ci.identifier_id = i.id AND mc.name = %s)`, next(q.MemberOf)))
	}

	// A candidate record carries exactly the query's collection key: the
	// named collection, or no collection when the query has none. A
	// collection-absent record never satisfies a scoped query.
	key := fmt.Sprintf(`cr.identifier_id = i.id
			  AND cr.data_source_id = (SELECT id FROM datasources WHERE name = %s)
			  AND cr.operation = %s
			  AND cr.collection_id IS NOT DISTINCT FROM
			       (SELECT id FROM collections WHERE name = NULLIF(%s, ''))`,
		next(q.DataSource), next(q.Operation), next(q.Collection))

	covering := fmt.Sprintf(`%s
			  AND cr.status <> %s
			  AND cr.status = ANY(%s)`,
		key, next(string(coverage.StatusRegistered)), next(q.CountAsCovered.Strings()))
	if !q.Cutoff.IsZero() {
		covering += fmt.Sprintf(" AND cr.timestamp >= %s", next(q.Cutoff))
	}
	clauses = append(clauses, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM coveragerecords cr WHERE %s)", covering))

	if q.RegisteredOnly {
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM coveragerecords cr WHERE %s)", key))
	}

	sql := fmt.Sprintf(`
		SELECT i.type, i.value
		FROM identifiers i
		WHERE %s
		ORDER BY i.id
		OFFSET %s`, strings.Join(clauses, " AND "), next(q.Offset))
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %s", next(q.Limit))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coverage.Identifier
	for rows.Next() {
		var item coverage.Identifier
		if err := rows.Scan(&item.Type, &item.Value); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) LookupTimestamp(ctx context.Context, service, serviceType, collection string) (*coverage.Timestamp, error) {
	const q = `
		SELECT t.start, t.finish, t.achievements, t.counter, t.exception
		FROM timestamps t
		LEFT JOIN collections c ON c.id = t.collection_id
		WHERE t.service = $1 AND t.service_type = $2
		  AND c.name IS NOT DISTINCT FROM NULLIF($3, '')`

	ts := coverage.Timestamp{
		Service:     service,
		ServiceType: serviceType,
		Collection:  collection,
	}
	var start, finish *time.Time
	err := s.pool.QueryRow(ctx, q, service, serviceType, collection).
		Scan(&start, &finish, &ts.Achievements, &ts.Counter, &ts.Exception)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if start != nil {
		ts.Start = *start
	}
	if finish != nil {
		ts.Finish = *finish
	}
	return &ts, nil
}

func (s *Store) Stamp(ctx context.Context, ts coverage.Timestamp) error {
	collID, err := s.collectionID(ctx, s.pool, ts.Collection)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO timestamps (service, service_type, collection_id, start, finish, achievements, counter, exception)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service, service_type, COALESCE(collection_id, -1))
		DO UPDATE SET start = EXCLUDED.start,
		              finish = EXCLUDED.finish,
		              achievements = EXCLUDED.achievements,
		              counter = EXCLUDED.counter,
		              exception = EXCLUDED.exception`

	_, err = s.pool.Exec(ctx, q,
		ts.Service, ts.ServiceType, collID,
		nullableTime(ts.Start), nullableTime(ts.Finish),
		ts.Achievements, ts.Counter, ts.Exception,
	)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
