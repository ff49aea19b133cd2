package coverage

import (
	"errors"
	"fmt"
)

// Failure is a classified per-item failure returned by a Processor. It is
// never persisted as-is; the scheduler converts it into a Record with a
// transient or persistent failure status.
type Failure struct {
	Item      Identifier
	Message   string
	Transient bool
}

func (f *Failure) Error() string {
	kind := "persistent"
	if f.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s failure covering %s: %s", kind, f.Item, f.Message)
}

// TransientFailure signals a retry-eligible failure. The item is
// reprocessed on every subsequent run.
func TransientFailure(item Identifier, message string) *Failure {
	return &Failure{Item: item, Message: message, Transient: true}
}

// PersistentFailure signals a terminal failure. The item is left alone
// until the cutoff time advances past the record or it is force-registered.
func PersistentFailure(item Identifier, message string) *Failure {
	return &Failure{Item: item, Message: message, Transient: false}
}

// AsFailure unwraps err as a *Failure. Any other error is a fault in the
// run itself, not a per-item outcome.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func (f *Failure) status() Status {
	if f.Transient {
		return StatusTransientFailure
	}
	return StatusPersistentFailure
}
