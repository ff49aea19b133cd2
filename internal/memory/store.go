// Package memory holds a deterministic, in-process implementation of the
// coverage store ports. It backs the engine's unit tests and embedders that
// want the engine without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openshelf/coverage/internal/coverage"
)

type recordKey struct {
	item       coverage.Identifier
	source     string
	operation  string
	collection string
}

type timestampKey struct {
	service     string
	serviceType string
	collection  string
}

// Store implements coverage.RecordStore, coverage.Catalog and
// coverage.TimestampStore over plain maps. Catalog order is the order
// identifiers were added, which is stable across calls as the offset
// cursor requires.
type Store struct {
	mu          sync.Mutex
	order       []coverage.Identifier
	known       map[coverage.Identifier]bool
	memberships map[string]map[coverage.Identifier]bool
	records     map[recordKey]coverage.Record
	timestamps  map[timestampKey]coverage.Timestamp
}

func New() *Store {
	return &Store{
		known:       make(map[coverage.Identifier]bool),
		memberships: make(map[string]map[coverage.Identifier]bool),
		records:     make(map[recordKey]coverage.Record),
		timestamps:  make(map[timestampKey]coverage.Timestamp),
	}
}

// AddIdentifier seeds the catalog with an identifier, optionally held by
// the named collections.
func (s *Store) AddIdentifier(item coverage.Identifier, collections ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known[item] {
		s.known[item] = true
		s.order = append(s.order, item)
	}
	for _, collection := range collections {
		members := s.memberships[collection]
		if members == nil {
			members = make(map[coverage.Identifier]bool)
			s.memberships[collection] = members
		}
		members[item] = true
	}
}

// Records returns every stored coverage record, sorted for stable
// assertions.
func (s *Store) Records() []coverage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]coverage.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Identifier != b.Identifier {
			if a.Identifier.Type != b.Identifier.Type {
				return a.Identifier.Type < b.Identifier.Type
			}
			return a.Identifier.Value < b.Identifier.Value
		}
		if a.DataSource != b.DataSource {
			return a.DataSource < b.DataSource
		}
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		return a.Collection < b.Collection
	})
	return out
}

func (s *Store) Lookup(ctx context.Context, item coverage.Identifier, dataSource, operation, collection string) (*coverage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{item, dataSource, operation, collection}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Upsert(ctx context.Context, item coverage.Identifier, spec coverage.UpsertSpec) (coverage.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{item, spec.DataSource, spec.Operation, spec.Collection}
	_, existed := s.records[key]
	rec := coverage.Record{
		Identifier: item,
		DataSource: spec.DataSource,
		Operation:  spec.Operation,
		Collection: spec.Collection,
		Status:     spec.Status,
		Timestamp:  spec.Timestamp,
		Exception:  spec.Exception,
	}
	s.records[key] = rec
	return rec, !existed, nil
}

func (s *Store) BulkUpsert(ctx context.Context, items []coverage.Identifier, spec coverage.UpsertSpec) ([]coverage.Record, []coverage.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written []coverage.Record
	var skipped []coverage.Identifier
	for _, item := range items {
		key := recordKey{item, spec.DataSource, spec.Operation, spec.Collection}
		if _, existed := s.records[key]; existed && !spec.Force {
			skipped = append(skipped, item)
			continue
		}
		rec := coverage.Record{
			Identifier: item,
			DataSource: spec.DataSource,
			Operation:  spec.Operation,
			Collection: spec.Collection,
			Status:     spec.Status,
			Timestamp:  spec.Timestamp,
			Exception:  spec.Exception,
		}
		s.records[key] = rec
		written = append(written, rec)
	}
	return written, skipped, nil
}

func (s *Store) NeedingCoverage(ctx context.Context, q coverage.Query) ([]coverage.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []coverage.Identifier
	for _, item := range s.order {
		if len(q.IdentifierTypes) > 0 && !contains(q.IdentifierTypes, item.Type) {
			continue
		}
		if q.MemberOf != "" && !s.memberships[q.MemberOf][item] {
			continue
		}

		rec, exists := s.records[recordKey{item, q.DataSource, q.Operation, q.Collection}]
		if q.RegisteredOnly && !exists {
			continue
		}
		if exists && covered(rec, q) {
			continue
		}
		matched = append(matched, item)
	}

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// covered applies the catalog predicate to one record: the status must be
// in the count-as-covered set and the record must not predate the cutoff.
// A registered record never covers; it only declares intent.
func covered(rec coverage.Record, q coverage.Query) bool {
	if rec.Status == coverage.StatusRegistered {
		return false
	}
	if !q.CountAsCovered.Contains(rec.Status) {
		return false
	}
	if !q.Cutoff.IsZero() && rec.Timestamp.Before(q.Cutoff) {
		return false
	}
	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func (s *Store) LookupTimestamp(ctx context.Context, service, serviceType, collection string) (*coverage.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.timestamps[timestampKey{service, serviceType, collection}]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (s *Store) Stamp(ctx context.Context, ts coverage.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timestamps[timestampKey{ts.Service, ts.ServiceType, ts.Collection}] = ts
	return nil
}
