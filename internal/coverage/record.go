package coverage

import (
	"fmt"
	"time"
)

// Identifier is an opaque external key for a catalog item. Many identifiers
// may denote the same real-world work; equivalency is not this package's
// concern.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (i Identifier) String() string {
	return fmt.Sprintf("%s/%s", i.Type, i.Value)
}

// Status describes the outcome of the most recent coverage attempt for an
// identifier. The values are stored verbatim, so they must not change.
type Status string

const (
	// StatusRegistered means intent to cover has been declared but no work
	// has been attempted yet. It never counts as coverage.
	StatusRegistered Status = "registered"

	StatusSuccess           Status = "success"
	StatusTransientFailure  Status = "transient failure"
	StatusPersistentFailure Status = "persistent failure"
)

// StatusSet is a set of statuses, typically used as a count_as_covered
// parameter for the catalog query.
type StatusSet []Status

func (s StatusSet) Contains(status Status) bool {
	for _, member := range s {
		if member == status {
			return true
		}
	}
	return false
}

func (s StatusSet) Strings() []string {
	out := make([]string, len(s))
	for i, status := range s {
		out[i] = string(status)
	}
	return out
}

var (
	// PreviouslyAttempted counts any attempted coverage -- regardless of
	// outcome -- as covered. Sweeping with this set picks up only
	// identifiers that have never been attempted.
	PreviouslyAttempted = StatusSet{StatusSuccess, StatusTransientFailure, StatusPersistentFailure}

	// DefaultCountAsCovered counts coverage as present only when the last
	// attempt ended in success or persistent failure. Transient failures
	// and registered items are retried.
	DefaultCountAsCovered = StatusSet{StatusSuccess, StatusPersistentFailure}

	AllStatuses = StatusSet{StatusRegistered, StatusSuccess, StatusTransientFailure, StatusPersistentFailure}
)

// Record is the unit of state the engine owns: one identifier run through
// one (data source, operation, collection) concern. At most one Record
// exists per (identifier, data source, operation, collection-or-none)
// tuple; it is overwritten in place on every subsequent attempt.
type Record struct {
	Identifier Identifier `json:"identifier"`
	DataSource string     `json:"data_source"`
	Operation  string     `json:"operation,omitempty"`

	// Collection is empty for records that satisfy every collection.
	Collection string `json:"collection,omitempty"`

	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Exception string    `json:"exception,omitempty"`
}

// ServiceTypeCoverageProvider is the service_type recorded on Timestamps
// written by this engine.
const ServiceTypeCoverageProvider = "coverage_provider"

// Timestamp is the per-service run bookkeeping row. One row per
// (service, collection) key, overwritten on every run.
type Timestamp struct {
	Service      string    `json:"service"`
	ServiceType  string    `json:"service_type"`
	Collection   string    `json:"collection,omitempty"`
	Start        time.Time `json:"start"`
	Finish       time.Time `json:"finish"`
	Achievements string    `json:"achievements,omitempty"`
	Counter      int64     `json:"counter,omitempty"`
	Exception    string    `json:"exception,omitempty"`
}
