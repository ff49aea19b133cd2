package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/coverage/internal/coverage"
)

func spec(status coverage.Status) coverage.UpsertSpec {
	return coverage.UpsertSpec{
		DataSource: "vendor",
		Operation:  "sync",
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}
}

func TestUpsertOverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	s := New()
	item := coverage.Identifier{Type: "ISBN", Value: "1"}

	_, created, err := s.Upsert(ctx, item, spec(coverage.StatusTransientFailure))
	require.NoError(t, err)
	assert.True(t, created)

	rec, created, err := s.Upsert(ctx, item, spec(coverage.StatusSuccess))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, coverage.StatusSuccess, rec.Status)

	assert.Len(t, s.Records(), 1)
}

func TestBulkUpsertSkipsUnlessForced(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := coverage.Identifier{Type: "ISBN", Value: "a"}
	b := coverage.Identifier{Type: "ISBN", Value: "b"}

	_, _, err := s.Upsert(ctx, a, spec(coverage.StatusSuccess))
	require.NoError(t, err)

	written, skipped, err := s.BulkUpsert(ctx, []coverage.Identifier{a, b}, spec(coverage.StatusRegistered))
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, b, written[0].Identifier)
	assert.Equal(t, []coverage.Identifier{a}, skipped)

	forced := spec(coverage.StatusRegistered)
	forced.Force = true
	written, skipped, err = s.BulkUpsert(ctx, []coverage.Identifier{a, b}, forced)
	require.NoError(t, err)
	assert.Len(t, written, 2)
	assert.Empty(t, skipped)

	rec, err := s.Lookup(ctx, a, "vendor", "sync", "")
	require.NoError(t, err)
	assert.Equal(t, coverage.StatusRegistered, rec.Status)
}

func TestNeedingCoveragePredicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	covered := coverage.Identifier{Type: "ISBN", Value: "covered"}
	stale := coverage.Identifier{Type: "ISBN", Value: "stale"}
	registered := coverage.Identifier{Type: "ISBN", Value: "registered"}
	bare := coverage.Identifier{Type: "ISBN", Value: "bare"}
	for _, item := range []coverage.Identifier{covered, stale, registered, bare} {
		s.AddIdentifier(item)
	}

	now := time.Now().UTC()
	write := func(item coverage.Identifier, status coverage.Status, ts time.Time) {
		up := spec(status)
		up.Timestamp = ts
		_, _, err := s.Upsert(ctx, item, up)
		require.NoError(t, err)
	}
	write(covered, coverage.StatusSuccess, now)
	write(stale, coverage.StatusSuccess, now.Add(-48*time.Hour))
	write(registered, coverage.StatusRegistered, now)

	base := coverage.Query{
		DataSource:     "vendor",
		Operation:      "sync",
		CountAsCovered: coverage.DefaultCountAsCovered,
	}

	t.Run("covered items are excluded", func(t *testing.T) {
		items, err := s.NeedingCoverage(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, []coverage.Identifier{registered, bare}, items)
	})

	t.Run("cutoff ages coverage out", func(t *testing.T) {
		q := base
		q.Cutoff = now.Add(-time.Hour)
		items, err := s.NeedingCoverage(ctx, q)
		require.NoError(t, err)
		assert.Contains(t, items, stale)
		assert.NotContains(t, items, covered)
	})

	t.Run("registered never counts as covered", func(t *testing.T) {
		q := base
		q.CountAsCovered = coverage.AllStatuses
		items, err := s.NeedingCoverage(ctx, q)
		require.NoError(t, err)
		assert.Contains(t, items, registered)
	})

	t.Run("registered only", func(t *testing.T) {
		q := base
		q.RegisteredOnly = true
		items, err := s.NeedingCoverage(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []coverage.Identifier{registered}, items)
	})

	t.Run("stale cutoff excludes nothing extra", func(t *testing.T) {
		items, err := s.NeedingCoverage(ctx, coverage.Query{
			DataSource:     "vendor",
			Operation:      "other-op",
			CountAsCovered: coverage.DefaultCountAsCovered,
		})
		require.NoError(t, err)
		assert.Len(t, items, 4, "records for another operation do not cover this one")
	})

	t.Run("offset and limit page stably", func(t *testing.T) {
		first, err := s.NeedingCoverage(ctx, coverage.Query{
			DataSource:     "vendor",
			Operation:      "other-op",
			CountAsCovered: coverage.DefaultCountAsCovered,
			Limit:          2,
		})
		require.NoError(t, err)
		rest, err := s.NeedingCoverage(ctx, coverage.Query{
			DataSource:     "vendor",
			Operation:      "other-op",
			CountAsCovered: coverage.DefaultCountAsCovered,
			Offset:         2,
			Limit:          2,
		})
		require.NoError(t, err)
		assert.Equal(t, []coverage.Identifier{covered, stale}, first)
		assert.Equal(t, []coverage.Identifier{registered, bare}, rest)
	})
}

func TestTimestampOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	ts, err := s.LookupTimestamp(ctx, "svc", coverage.ServiceTypeCoverageProvider, "")
	require.NoError(t, err)
	assert.Nil(t, ts)

	first := coverage.Timestamp{
		Service:     "svc",
		ServiceType: coverage.ServiceTypeCoverageProvider,
		Start:       time.Now().UTC(),
		Finish:      time.Now().UTC(),
	}
	require.NoError(t, s.Stamp(ctx, first))

	second := first
	second.Achievements = "Items processed: 1. Successes: 1, transient failures: 0, persistent failures: 0"
	require.NoError(t, s.Stamp(ctx, second))

	got, err := s.LookupTimestamp(ctx, "svc", coverage.ServiceTypeCoverageProvider, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Achievements, got.Achievements)

	// One row per key; a collection-keyed stamp is a different row.
	scoped := first
	scoped.Collection = "branch-a"
	require.NoError(t, s.Stamp(ctx, scoped))
	got, err = s.LookupTimestamp(ctx, "svc", coverage.ServiceTypeCoverageProvider, "branch-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "branch-a", got.Collection)
}
