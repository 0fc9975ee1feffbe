package timing

import (
	"errors"
	"fmt"
)

// Error kinds returned by the timing package. Match them with errors.Is.
var (
	ErrInvalidSpec             = errors.New("invalid timing spec")
	ErrUnsupportedCadence      = errors.New("unsupported cadence")
	ErrUnsupportedDurationUnit = errors.New("unsupported duration unit")
	ErrUnsupportedSymbolicCode = errors.New("unsupported symbolic event timing")
	ErrUnknownTimezone         = errors.New("unknown timezone")
)

// Error carries the kind of failure plus the offending detail.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsSpecError reports whether err is caused by the shape of a timing spec or
// query rather than by infrastructure.
func IsSpecError(err error) bool {
	return errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrUnsupportedCadence) ||
		errors.Is(err, ErrUnsupportedDurationUnit) ||
		errors.Is(err, ErrUnsupportedSymbolicCode) ||
		errors.Is(err, ErrUnknownTimezone)
}
