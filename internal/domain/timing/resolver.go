package timing

import (
	"strings"
	"time"
)

// DefaultOffset is the half-width of the window around an exact or
// patient-declared time.
const DefaultOffset = 20 * time.Minute

// Resolver turns a symbolic code on a reference date into a concrete interval.
// It holds only immutable data and is safe for concurrent use.
type Resolver struct {
	table  Table
	offset time.Duration
}

type ResolverOption func(*Resolver)

// WithTable replaces the default window table.
func WithTable(t Table) ResolverOption {
	return func(r *Resolver) {
		if t != nil {
			r.table = t
		}
	}
}

// WithOffset changes the half-width used for overrides and exact windows.
func WithOffset(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.offset = d
		}
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{table: DefaultTable(), offset: DefaultOffset}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Offset() time.Duration {
	return r.offset
}

// Window returns the configured default window for code.
func (r *Resolver) Window(code EventTiming) (Window, bool) {
	w, ok := r.table[code]
	return w, ok
}

// Resolve projects ref into loc, takes the local calendar date and returns the
// window of code on that date as UTC instants. A patient override wins over the
// table. EXACT is never resolvable here.
func (r *Resolver) Resolve(ref time.Time, code EventTiming, overrides Overrides, loc *time.Location) (Interval, error) {
	if loc == nil {
		loc = time.UTC
	}
	if code == Exact {
		return Interval{}, newError(ErrUnsupportedSymbolicCode, "EXACT carries its own time")
	}

	y, m, d := ref.In(loc).Date()

	if at, ok := overrides[code]; ok {
		center := time.Date(y, m, d, 0, int(at), 0, 0, loc)
		return Interval{
			Start: center.Add(-r.offset).UTC(),
			End:   center.Add(r.offset).UTC(),
		}, nil
	}

	w, ok := r.table[code]
	if !ok {
		return Interval{}, newError(ErrUnsupportedSymbolicCode, "%q has no default window", code)
	}
	endDay := d
	if w.WrapsMidnight() {
		endDay++
	}
	return Interval{
		Start: time.Date(y, m, d, 0, int(w.Start), 0, 0, loc).UTC(),
		End:   time.Date(y, m, endDay, 0, int(w.End), 0, 0, loc).UTC(),
	}, nil
}

// ResolveInZone is Resolve with an IANA zone name. An empty name means UTC.
func (r *Resolver) ResolveInZone(ref time.Time, code EventTiming, overrides Overrides, tz string) (Interval, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return Interval{}, err
	}
	return r.Resolve(ref, code, overrides, loc)
}

// ExactWindow is the small window around an instant used for exact-time queries.
func (r *Resolver) ExactWindow(at time.Time) Interval {
	return Interval{
		Start: at.Add(-r.offset).UTC(),
		End:   at.Add(r.offset).UTC(),
	}
}

// LocalDay is the local calendar day containing ref in loc, as UTC instants.
// Days adjacent to a DST change are 23 or 25 hours long.
func LocalDay(ref time.Time, loc *time.Location) Interval {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := ref.In(loc).Date()
	return Interval{
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc).UTC(),
		End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC(),
	}
}

// LoadLocation wraps time.LoadLocation with the package error kind.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, newError(ErrUnknownTimezone, "%q", tz)
	}
	return loc, nil
}
