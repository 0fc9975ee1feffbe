package healthevent

import (
	"errors"
	"fmt"

	"github.com/ehr/healthevents/internal/domain/timing"
)

var (
	// ErrStoreWrite means events could not be persisted, or not all of them were.
	ErrStoreWrite = errors.New("event store write failed")
	// ErrPatientLookup means the patient's timing profile could not be loaded.
	ErrPatientLookup = errors.New("patient timing profile unavailable")
)

var kinds = []error{
	timing.ErrInvalidSpec,
	timing.ErrUnsupportedCadence,
	timing.ErrUnsupportedDurationUnit,
	timing.ErrUnsupportedSymbolicCode,
	timing.ErrUnknownTimezone,
	ErrStoreWrite,
	ErrPatientLookup,
}

// SchedulingError reports a failed scheduling operation on one order.
type SchedulingError struct {
	Op          string
	ReferenceID string
	Err         error
}

func (e *SchedulingError) Error() string {
	if e.ReferenceID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ReferenceID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// Kind returns the sentinel the failure matches, or nil for unclassified errors.
func (e *SchedulingError) Kind() error {
	for _, k := range kinds {
		if errors.Is(e.Err, k) {
			return k
		}
	}
	return nil
}

func schedulingError(op, ref string, err error) error {
	if err == nil {
		return nil
	}
	var se *SchedulingError
	if errors.As(err, &se) {
		return err
	}
	return &SchedulingError{Op: op, ReferenceID: ref, Err: err}
}

// IsClientError reports whether err stems from the order's timing rather than
// from infrastructure.
func IsClientError(err error) bool {
	return timing.IsSpecError(err)
}
