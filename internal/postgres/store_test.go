package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openshelf/coverage/internal/coverage"
	"github.com/openshelf/coverage/internal/postgres"
)

func startPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate pgContainer: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	// Idempotency: a second startup against a populated database works.
	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	return pool
}

func TestIntegrationStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pool := startPool(t)
	store := postgres.New(pool)

	isbn := func(v string) coverage.Identifier {
		return coverage.Identifier{Type: "ISBN", Value: v}
	}

	t.Run("upsert keeps one record per key", func(t *testing.T) {
		_, err := store.EnsureDataSource(ctx, "upsert-src")
		require.NoError(t, err)

		item := isbn("9780000000001")
		spec := coverage.UpsertSpec{
			DataSource: "upsert-src",
			Operation:  "sync",
			Status:     coverage.StatusTransientFailure,
			Exception:  "vendor 503",
		}

		_, created, err := store.Upsert(ctx, item, spec)
		require.NoError(t, err)
		assert.True(t, created)

		spec.Status = coverage.StatusSuccess
		spec.Exception = ""
		record, created, err := store.Upsert(ctx, item, spec)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, coverage.StatusSuccess, record.Status)

		var count int
		err = pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM coveragerecords cr
			JOIN identifiers i ON i.id = cr.identifier_id
			WHERE i.value = $1`, item.Value).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := store.Lookup(ctx, item, "upsert-src", "sync", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, coverage.StatusSuccess, got.Status)
		assert.Empty(t, got.Exception)
	})

	t.Run("upsert rejects an unknown data source", func(t *testing.T) {
		_, _, err := store.Upsert(ctx, isbn("9780000000002"), coverage.UpsertSpec{
			DataSource: "never-created",
			Status:     coverage.StatusSuccess,
		})
		assert.ErrorContains(t, err, "unknown data source")
	})

	t.Run("bulk upsert skips unless forced", func(t *testing.T) {
		_, err := store.EnsureDataSource(ctx, "bulk-src")
		require.NoError(t, err)

		existing := isbn("9780000000010")
		fresh := isbn("9780000000011")

		_, _, err = store.Upsert(ctx, existing, coverage.UpsertSpec{
			DataSource: "bulk-src",
			Status:     coverage.StatusSuccess,
		})
		require.NoError(t, err)

		spec := coverage.UpsertSpec{
			DataSource: "bulk-src",
			Status:     coverage.StatusRegistered,
		}
		records, skipped, err := store.BulkUpsert(ctx, []coverage.Identifier{existing, fresh}, spec)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, fresh, records[0].Identifier)
		assert.Equal(t, []coverage.Identifier{existing}, skipped)

		// The existing success is untouched.
		got, err := store.Lookup(ctx, existing, "bulk-src", "", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, coverage.StatusSuccess, got.Status)

		spec.Force = true
		records, skipped, err = store.BulkUpsert(ctx, []coverage.Identifier{existing, fresh}, spec)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Empty(t, skipped)

		got, err = store.Lookup(ctx, existing, "bulk-src", "", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, coverage.StatusRegistered, got.Status)
	})

	t.Run("bulk upsert autocreates the data source when permitted", func(t *testing.T) {
		_, _, err := store.BulkUpsert(ctx, []coverage.Identifier{isbn("9780000000020")}, coverage.UpsertSpec{
			DataSource:       "autocreated-src",
			Status:           coverage.StatusRegistered,
			AutocreateSource: true,
		})
		require.NoError(t, err)

		var name string
		err = pool.QueryRow(ctx, `SELECT name FROM datasources WHERE name = 'autocreated-src'`).Scan(&name)
		require.NoError(t, err)
	})

	t.Run("needing coverage predicate", func(t *testing.T) {
		const src = "predicate-src"
		_, err := store.EnsureDataSource(ctx, src)
		require.NoError(t, err)

		old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

		covered := isbn("9780000000100")
		stale := isbn("9780000000101")
		registered := isbn("9780000000102")
		bare := isbn("9780000000103")
		outsider := coverage.Identifier{Type: "Overdrive ID", Value: "od-1"}

		for _, item := range []coverage.Identifier{covered, stale, registered, bare, outsider} {
			require.NoError(t, store.AddToCollection(ctx, item, "predicate-coll"))
		}

		write := func(item coverage.Identifier, status coverage.Status, ts time.Time) {
			t.Helper()
			_, _, err := store.Upsert(ctx, item, coverage.UpsertSpec{
				DataSource: src,
				Status:     status,
				Timestamp:  ts,
			})
			require.NoError(t, err)
		}
		write(covered, coverage.StatusSuccess, now)
		write(stale, coverage.StatusSuccess, old)
		write(registered, coverage.StatusRegistered, now)

		// Membership keeps identifiers created by other subtests out.
		base := coverage.Query{
			DataSource:     src,
			MemberOf:       "predicate-coll",
			CountAsCovered: coverage.DefaultCountAsCovered,
		}

		t.Run("covered items are excluded", func(t *testing.T) {
			items, err := store.NeedingCoverage(ctx, base)
			require.NoError(t, err)
			assert.Equal(t, []coverage.Identifier{registered, bare, outsider}, items)
		})

		t.Run("cutoff ages successes out of coverage", func(t *testing.T) {
			q := base
			q.Cutoff = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			items, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, []coverage.Identifier{stale, registered, bare, outsider}, items)
		})

		t.Run("registered never counts as covered", func(t *testing.T) {
			q := base
			q.CountAsCovered = coverage.AllStatuses
			items, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, []coverage.Identifier{registered, bare, outsider}, items)
		})

		t.Run("registered only drains existing records", func(t *testing.T) {
			q := base
			q.RegisteredOnly = true
			items, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, []coverage.Identifier{registered}, items)
		})

		t.Run("membership restriction", func(t *testing.T) {
			q := base
			q.MemberOf = "some-other-coll"
			items, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			assert.Empty(t, items)
		})

		t.Run("identifier type filter", func(t *testing.T) {
			q := base
			q.IdentifierTypes = []string{"Overdrive ID"}
			items, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, []coverage.Identifier{outsider}, items)
		})

		t.Run("offset and limit page stably", func(t *testing.T) {
			q := base
			q.Limit = 2
			first, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			require.Len(t, first, 2)

			q.Offset = 2
			second, err := store.NeedingCoverage(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, []coverage.Identifier{registered, bare}, first)
			assert.Equal(t, []coverage.Identifier{outsider}, second)
		})
	})

	t.Run("collection scoping matches record keys exactly", func(t *testing.T) {
		const src = "scoping-src"
		_, err := store.EnsureDataSource(ctx, src)
		require.NoError(t, err)

		globallyCovered := isbn("9780000000200")
		locallyCovered := isbn("9780000000201")
		require.NoError(t, store.AddToCollection(ctx, globallyCovered, "scoping-coll"))
		require.NoError(t, store.AddToCollection(ctx, locallyCovered, "scoping-coll"))

		_, _, err = store.Upsert(ctx, globallyCovered, coverage.UpsertSpec{
			DataSource: src,
			Status:     coverage.StatusSuccess,
		})
		require.NoError(t, err)
		_, _, err = store.Upsert(ctx, locallyCovered, coverage.UpsertSpec{
			DataSource: src,
			Collection: "scoping-coll",
			Status:     coverage.StatusSuccess,
		})
		require.NoError(t, err)

		scoped := coverage.Query{
			DataSource:     src,
			Collection:     "scoping-coll",
			MemberOf:       "scoping-coll",
			CountAsCovered: coverage.DefaultCountAsCovered,
		}
		items, err := store.NeedingCoverage(ctx, scoped)
		require.NoError(t, err)
		assert.Equal(t, []coverage.Identifier{globallyCovered}, items,
			"a collection-absent record does not satisfy the scoped query")

		global := coverage.Query{
			DataSource:     src,
			MemberOf:       "scoping-coll",
			CountAsCovered: coverage.DefaultCountAsCovered,
		}
		items, err = store.NeedingCoverage(ctx, global)
		require.NoError(t, err)
		assert.Equal(t, []coverage.Identifier{locallyCovered}, items,
			"a collection-bound record does not satisfy the global query")
	})

	t.Run("timestamps overwrite in place", func(t *testing.T) {
		ts := coverage.Timestamp{
			Service:     "Sample Provider",
			ServiceType: coverage.ServiceTypeCoverageProvider,
			Start:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			Finish:      time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
			Counter:     7,
		}
		require.NoError(t, store.Stamp(ctx, ts))

		ts.Achievements = "Items processed: 3. Successes: 3, transient failures: 0, persistent failures: 0"
		require.NoError(t, store.Stamp(ctx, ts))

		got, err := store.LookupTimestamp(ctx, "Sample Provider", coverage.ServiceTypeCoverageProvider, "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ts.Achievements, got.Achievements)
		assert.Equal(t, int64(7), got.Counter)
		assert.True(t, ts.Finish.Equal(got.Finish))

		var count int
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM timestamps WHERE service = 'Sample Provider'`).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		missing, err := store.LookupTimestamp(ctx, "Sample Provider", coverage.ServiceTypeCoverageProvider, "elsewhere")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("advisory lock excludes a second holder", func(t *testing.T) {
		locker := postgres.NewAdvisoryLocker(pool)

		release, err := locker.Acquire(ctx, "coverage:lock-src::")
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "coverage:lock-src::")
		assert.ErrorIs(t, err, coverage.ErrLockBusy)

		release()

		release2, err := locker.Acquire(ctx, "coverage:lock-src::")
		require.NoError(t, err)
		release2()
	})
}

// vendorStub classifies items by a scripted outcome table.
type vendorStub struct {
	outcomes map[string]error
}

func (p *vendorStub) ProcessItem(_ context.Context, item coverage.Identifier) error {
	return p.outcomes[item.String()]
}

func TestIntegrationProviderRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pool := startPool(t)
	store := postgres.New(pool)

	const src = "run-src"
	_, err := store.EnsureDataSource(ctx, src)
	require.NoError(t, err)

	ok := coverage.Identifier{Type: "ISBN", Value: "9780000000300"}
	flaky := coverage.Identifier{Type: "ISBN", Value: "9780000000301"}
	broken := coverage.Identifier{Type: "ISBN", Value: "9780000000302"}
	for _, item := range []coverage.Identifier{ok, flaky, broken} {
		require.NoError(t, store.AddToCollection(ctx, item, "run-coll"))
	}

	processor := &vendorStub{outcomes: map[string]error{
		flaky.String():  coverage.TransientFailure(flaky, "vendor 503"),
		broken.String(): coverage.PersistentFailure(broken, "no such record"),
	}}

	provider, err := coverage.New(coverage.Config{
		ServiceName: "Sample Vendor Coverage Provider",
		DataSource:  src,
		Collection:  "run-coll",
		BatchSize:   2,
	},
		coverage.WithRecordStore(store),
		coverage.WithCatalog(store),
		coverage.WithTimestampStore(store),
		coverage.WithProcessor(processor),
		coverage.WithLocker(postgres.NewAdvisoryLocker(pool)),
	)
	require.NoError(t, err)

	progress, err := provider.Run(ctx)
	require.NoError(t, err)

	// Phase one attempts all three; phase two retries the transient one.
	assert.Equal(t, 1, progress.Successes)
	assert.Equal(t, 2, progress.TransientFailures)
	assert.Equal(t, 1, progress.PersistentFailures)
	assert.True(t, progress.Complete())

	record, err := store.Lookup(ctx, ok, src, "", "")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, coverage.StatusSuccess, record.Status)

	record, err = store.Lookup(ctx, flaky, src, "", "")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, coverage.StatusTransientFailure, record.Status)
	assert.Equal(t, "vendor 503", record.Exception)

	ts, err := provider.Timestamp(ctx)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, "Items processed: 4. Successes: 1, transient failures: 2, persistent failures: 1", ts.Achievements)

	// A second run only retries the transient failure.
	progress, err = provider.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.Successes)
	assert.Equal(t, 1, progress.TransientFailures)
	assert.Equal(t, 0, progress.PersistentFailures)
}
