package sql

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal"
)

// Source snapshots the result set of a query through database/sql, so
// any registered driver works.
type Source struct {
	DB     *sql.DB
	Query  string
	name   string
	logger *zap.Logger
}

func (s *Source) Name() string {
	return s.name
}

// Count returns the expected number of rows in the snapshot.
func (s *Source) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM (%s) AS src`, s.Query)
	var c int
	err := s.DB.QueryRowContext(ctx, query).Scan(&c)
	return c, err
}

func (s *Source) Close(ctx context.Context) error {
	return s.DB.Close()
}

type Snapshot struct {
	rows    *sql.Rows
	columns []string
	query   string
}

func (s *Snapshot) Query() string {
	return s.query
}

func (s *Snapshot) Close() error {
	return s.rows.Close()
}

// Next returns the next row, or io.EOF when the snapshot is drained.
func (s *Snapshot) Next() (*internal.Row, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	values := make([]any, len(s.columns))
	valuePtrs := make([]any, len(s.columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := s.rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	return internal.NewRow(s.columns, values), nil
}

func (s *Source) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.logger.Debug("starting snapshot", zap.String("query", s.Query))

	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, err
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		rows:    rows,
		columns: columns,
		query:   s.Query,
	}, nil
}

type SourceOption func(*Source)

func WithQuery(query string) SourceOption {
	return func(s *Source) {
		s.Query = query
	}
}

func WithName(name string) SourceOption {
	return func(s *Source) {
		s.name = name
	}
}

func WithLogger(logger *zap.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger
	}
}

func NewSource(db *sql.DB, opts ...SourceOption) *Source {
	s := Source{
		DB:     db,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}
