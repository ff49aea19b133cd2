package parquet

import (
	"context"
	"fmt"

	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal"
)

const defaultBatchSizeNumRecords = 1000

type Option func(*Preserver)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Preserver) {
		p.logger = logger
	}
}

func WithSchema(schema Schema) Option {
	return func(p *Preserver) {
		p.schema = schema
	}
}

func WithRepository(repository internal.Repository) Option {
	return func(p *Preserver) {
		p.repository = repository
	}
}

// WithBatchSizeNumRecords sets how many rows go into one parquet row
// group.
func WithBatchSizeNumRecords(n int) Option {
	return func(p *Preserver) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// Preserver serializes rows to a parquet file and hands the finished
// file to a Repository on Flush.
type Preserver struct {
	logger     *zap.Logger
	schema     Schema
	repository internal.Repository
	batchSize  int

	file    *memFile
	writer  *writer.CSVWriter
	numRows int
}

func New(opts ...Option) (*Preserver, error) {
	p := &Preserver{
		logger:    zap.NewNop(),
		batchSize: defaultBatchSizeNumRecords,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("parquet")

	if len(p.schema) == 0 {
		return nil, fmt.Errorf("parquet: a schema is required")
	}
	if p.repository == nil {
		return nil, fmt.Errorf("parquet: a repository is required")
	}

	p.file = newMemFile()
	w, err := writer.NewCSVWriter(p.schema.ToGoParquetSchema(), p.file, 4)
	if err != nil {
		return nil, err
	}
	p.writer = w

	return p, nil
}

// Preserve appends one row to the parquet file.
func (p *Preserver) Preserve(ctx context.Context, row *internal.Row) error {
	values, err := p.schema.RowToParquetRow(row)
	if err != nil {
		return err
	}
	if err := p.writer.Write(values); err != nil {
		return err
	}

	p.numRows++
	if p.numRows%p.batchSize == 0 {
		if err := p.writer.Flush(true); err != nil {
			return err
		}
	}
	return nil
}

func (p *Preserver) NumRows() int {
	return p.numRows
}

// Flush finalizes the parquet file and writes it to the repository
// under the given key. The Preserver cannot be reused afterwards.
func (p *Preserver) Flush(ctx context.Context, key string) error {
	if err := p.writer.WriteStop(); err != nil {
		return err
	}

	p.logger.Info("flushing parquet file",
		zap.String("key", key),
		zap.Int("rows", p.numRows),
	)
	return p.repository.Write(ctx, key, p.file.Reader())
}
