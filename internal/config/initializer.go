package config

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal"
	"github.com/openshelf/coverage/internal/coverage"
	"github.com/openshelf/coverage/internal/local"
	"github.com/openshelf/coverage/internal/postgres"
	"github.com/openshelf/coverage/internal/providers/openlibrary"
	"github.com/openshelf/coverage/internal/s3"
)

// NewPool connects to the configured database and verifies the
// connection.
func NewPool(ctx context.Context, c *Coverage) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, c.Database.ConnectionString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewRepository builds the configured artifact repository. The prefix,
// usually a run id, namespaces this run's artifacts.
func NewRepository(c Repository, prefix string, logger *zap.Logger) (internal.Repository, error) {
	switch c.Type {
	case "local":
		return local.New(
			c.LocalConfig.Path,
			local.WithPrefix(prefix),
			local.WithLogger(logger),
		), nil
	case "s3":
		return s3.New(
			s3.WithLogger(logger),
			s3.WithRegion(c.S3Config.Region),
			s3.WithBucket(c.S3Config.Bucket),
			s3.WithEndpoint(c.S3Config.Endpoint),
			s3.WithPrefix(path.Join(c.S3Config.Prefix, prefix)),
			s3.WithForcePathStyle(c.S3Config.ForcePathStyle),
		)
	default:
		return nil, fmt.Errorf("unknown repository type: %q", c.Type)
	}
}

// newProcessor builds the configured processor for one provider.
func newProcessor(c Processor, repository internal.Repository, logger *zap.Logger) (coverage.Processor, error) {
	switch c.Type {
	case "openlibrary":
		sink := openlibrary.NewRepositorySink(repository, openlibrary.WithSinkLogger(logger))

		opts := []openlibrary.Option{openlibrary.WithLogger(logger)}
		if c.OpenLibrary.BaseURL != "" {
			opts = append(opts, openlibrary.WithBaseURL(c.OpenLibrary.BaseURL))
		}
		return openlibrary.New(sink, opts...)
	case "noop":
		return noopProcessor{}, nil
	default:
		return nil, fmt.Errorf("unknown processor type: %q", c.Type)
	}
}

// noopProcessor marks every item successful. Useful for smoke-testing
// a deployment's wiring without touching a vendor.
type noopProcessor struct{}

func (noopProcessor) ProcessItem(context.Context, coverage.Identifier) error {
	return nil
}

// InitializeProvider wires one configured provider against the shared
// Postgres store.
func InitializeProvider(ctx context.Context, c Provider, pool *pgxpool.Pool, repository internal.Repository, logger *zap.Logger) (*coverage.Provider, error) {
	store := postgres.New(pool, postgres.WithLogger(logger))

	if _, err := store.EnsureDataSource(ctx, c.DataSource); err != nil {
		return nil, err
	}

	processor, err := newProcessor(c.Processor, repository, logger)
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if c.CutoffDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -c.CutoffDays)
	}

	return coverage.New(coverage.Config{
		ServiceName:      c.ServiceName,
		DataSource:       c.DataSource,
		Operation:        c.Operation,
		Collection:       c.Collection,
		CollectionScoped: c.CollectionScoped,
		IdentifierTypes:  c.IdentifierTypes,
		BatchSize:        c.BatchSize,
		Cutoff:           cutoff,
		RegisteredOnly:   c.RegisteredOnly,
	},
		coverage.WithRecordStore(store),
		coverage.WithCatalog(store),
		coverage.WithTimestampStore(store),
		coverage.WithProcessor(processor),
		coverage.WithLocker(postgres.NewAdvisoryLocker(pool)),
		coverage.WithLogger(logger),
	)
}

// InitializeProviders wires every configured provider.
func InitializeProviders(ctx context.Context, c *Coverage, pool *pgxpool.Pool, repository internal.Repository, logger *zap.Logger) ([]*coverage.Provider, error) {
	providers := make([]*coverage.Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		p, err := InitializeProvider(ctx, pc, pool, repository, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing provider %q: %w", pc.ServiceName, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
