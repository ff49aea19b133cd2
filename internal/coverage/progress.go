package coverage

import (
	"fmt"
	"time"
)

// Progress accumulates the state of one provider run. It is a plain value:
// the scheduler threads it through each batch step explicitly and discards
// it when the run ends, except for the fields copied into the Timestamp.
type Progress struct {
	Start  time.Time
	Finish time.Time

	// Offset is the resume cursor within the current sweep phase. It only
	// ever advances past items that will reappear in the catalog query;
	// items whose new status counts as covered vanish from the query on
	// their own.
	Offset int

	Successes          int
	TransientFailures  int
	PersistentFailures int

	// Counter is a free-form progress marker, refreshed from a
	// CounterSource processor after each batch. It is copied into
	// Timestamp.Counter.
	Counter int64

	// Exception ends the run without treating it as a crash when set by a
	// batch step ("upstream auth unavailable" and the like).
	Exception string
}

// Complete reports whether the current phase has no more work.
func (p Progress) Complete() bool {
	return !p.Finish.IsZero()
}

// Achievements renders the run totals. It is derived, never stored on
// Progress directly.
func (p Progress) Achievements() string {
	total := p.Successes + p.TransientFailures + p.PersistentFailures
	return fmt.Sprintf(
		"Items processed: %d. Successes: %d, transient failures: %d, persistent failures: %d",
		total, p.Successes, p.TransientFailures, p.PersistentFailures,
	)
}
