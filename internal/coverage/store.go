package coverage

import (
	"context"
	"time"
)

// UpsertSpec describes the record state to write for one or more
// identifiers sharing a (data source, operation, collection) key.
type UpsertSpec struct {
	DataSource string
	Operation  string
	Collection string

	Status    Status
	Timestamp time.Time
	Exception string

	// Force makes BulkUpsert overwrite identifiers that already have a
	// record. When false they are left untouched and reported as skipped.
	Force bool

	// AutocreateSource permits creating a data source that does not exist
	// yet. Used when coverage is attributed to a collection's private
	// namespace rather than the shared vendor source.
	AutocreateSource bool
}

// RecordStore persists CoverageRecords. Implementations must enforce the
// at-most-one-record-per-key invariant.
type RecordStore interface {
	// Lookup returns the record for the given key, or nil if absent.
	Lookup(ctx context.Context, item Identifier, dataSource, operation, collection string) (*Record, error)

	// Upsert writes the record for one identifier, overwriting any
	// existing record for the same key. It reports whether a new record
	// was created.
	Upsert(ctx context.Context, item Identifier, spec UpsertSpec) (Record, bool, error)

	// BulkUpsert writes records for many identifiers at once, honoring
	// spec.Force. It returns the written records and the identifiers that
	// were skipped because a record already existed.
	BulkUpsert(ctx context.Context, items []Identifier, spec UpsertSpec) ([]Record, []Identifier, error)
}

// Query selects catalog identifiers that still need coverage. See
// Catalog.NeedingCoverage for the predicate.
type Query struct {
	DataSource string
	Operation  string

	// Collection a record must carry to count as covering. Empty matches
	// records with no collection, which satisfy every collection.
	Collection string

	// MemberOf restricts results to identifiers held by the named
	// collection. Empty means no restriction.
	MemberOf string

	// CountAsCovered is the set of statuses treated as "done, skip".
	// A registered record never counts as covered regardless of this set.
	CountAsCovered StatusSet

	// Cutoff, when non-zero, makes records older than it not count as
	// covered regardless of status.
	Cutoff time.Time

	// IdentifierTypes, when non-empty, is an allow-list of identifier
	// types.
	IdentifierTypes []string

	// RegisteredOnly excludes identifiers with no record at all; the
	// caller only wants to drain previously-registered work.
	RegisteredOnly bool

	Offset int
	Limit  int
}

// Catalog answers the "items that need coverage" question. An identifier
// needs coverage when no matching record exists whose status is in
// CountAsCovered and whose timestamp is at or after the cutoff. Ordering
// must be stable across calls so the offset cursor neither skips nor
// repeats items.
type Catalog interface {
	NeedingCoverage(ctx context.Context, q Query) ([]Identifier, error)
}

// TimestampStore persists run bookkeeping, one row per (service,
// collection) key, overwritten on every stamp.
type TimestampStore interface {
	// LookupTimestamp returns the Timestamp for the given key, or nil if
	// the service has never stamped.
	LookupTimestamp(ctx context.Context, service, serviceType, collection string) (*Timestamp, error)

	// Stamp creates or overwrites the Timestamp row.
	Stamp(ctx context.Context, ts Timestamp) error
}
