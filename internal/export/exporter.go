package export

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal"
	"github.com/openshelf/coverage/internal/catalog"
	"github.com/openshelf/coverage/internal/parquet"
	"github.com/openshelf/coverage/internal/sql"
)

// RecordsQuery is the denormalized view of coverage state that ends up
// in the export artifact.
const RecordsQuery = `
SELECT i.type AS identifier_type,
       i.value AS identifier,
       d.name AS data_source,
       cr.operation,
       COALESCE(c.name, '') AS collection,
       cr.status,
       cr.timestamp,
       cr.exception
FROM coveragerecords cr
JOIN identifiers i ON i.id = cr.identifier_id
JOIN datasources d ON d.id = cr.data_source_id
LEFT JOIN collections c ON c.id = cr.collection_id
ORDER BY cr.id`

// RecordsSchema matches RecordsQuery column for column.
var RecordsSchema = parquet.Schema{
	{Name: "identifier_type", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
	{Name: "identifier", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
	{Name: "data_source", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
	{Name: "operation", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
	{Name: "collection", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
	{Name: "status", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
	{Name: "timestamp", Type: "INT64", ConvertedType: "TIMESTAMP_MICROS"},
	{Name: "exception", Type: "BYTE_ARRAY", ConvertedType: "UTF8"},
}

type Option func(*Exporter)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

func WithSource(source *sql.Source) Option {
	return func(e *Exporter) {
		e.source = source
	}
}

func WithPreserver(preserver *parquet.Preserver) Option {
	return func(e *Exporter) {
		e.preserver = preserver
	}
}

func WithRepository(repository internal.Repository) Option {
	return func(e *Exporter) {
		e.repository = repository
	}
}

// Exporter snapshots coverage state into a parquet artifact plus a
// catalog describing the export.
type Exporter struct {
	logger     *zap.Logger
	source     *sql.Source
	preserver  *parquet.Preserver
	repository internal.Repository
}

func New(opts ...Option) (*Exporter, error) {
	e := &Exporter{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("export")

	if e.source == nil {
		return nil, errors.New("export: a source is required")
	}
	if e.preserver == nil {
		return nil, errors.New("export: a preserver is required")
	}
	if e.repository == nil {
		return nil, errors.New("export: a repository is required")
	}
	return e, nil
}

func (e *Exporter) Close(ctx context.Context) error {
	return e.source.Close(ctx)
}

// Export drains the source through the preserver and writes the
// artifact and its catalog to the repository.
func (e *Exporter) Export(ctx context.Context) (catalog.Catalog, error) {
	log := catalog.Catalog{
		StartTime: time.Now().UTC(),
		Source:    e.source.Name(),
	}

	expected, err := e.source.Count(ctx)
	if err != nil {
		return log, err
	}
	log.NumSourceRecords = expected

	snapshot, err := e.source.Snapshot(ctx)
	if err != nil {
		return log, err
	}
	defer snapshot.Close()

	for {
		row, err := snapshot.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return log, err
		}

		if err := e.preserver.Preserve(ctx, row); err != nil {
			return log, err
		}
	}

	if err := e.preserver.Flush(ctx, "coveragerecords.parquet"); err != nil {
		return log, err
	}

	log.NumRecordsProcessed = e.preserver.NumRows()
	log.EndTime = time.Now().UTC()
	log.Completed = log.NumRecordsProcessed == log.NumSourceRecords

	if err := log.Write(ctx, e.repository); err != nil {
		return log, err
	}

	e.logger.Info("export complete",
		zap.Int("num_source_records", log.NumSourceRecords),
		zap.Int("num_records_processed", log.NumRecordsProcessed),
		zap.Bool("completed", log.Completed),
	)
	return log, nil
}
