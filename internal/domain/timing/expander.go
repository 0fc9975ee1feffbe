package timing

import (
	"time"
)

// MaxSpanDays caps a single expansion at roughly ten years.
const MaxSpanDays = 3660

// Occurrence is one generated event before it is bound to a patient and order.
type Occurrence struct {
	At     time.Time   `json:"at"`
	Exact  bool        `json:"exact_time_is_setup"`
	Timing EventTiming `json:"event_timing"`
}

// ExpandOptions tune one expansion.
type ExpandOptions struct {
	// Location is the zone that explicit clock times and day boundaries are
	// expressed in. Nil means UTC.
	Location *time.Location
	// Start is a caller-declared first day for open durations. When nil the
	// expander's clock decides.
	Start *time.Time
}

// Expander enumerates the occurrences implied by a Spec.
type Expander struct {
	now func() time.Time
}

// NewExpander returns an expander using time.Now for open durations.
func NewExpander() *Expander {
	return &Expander{now: time.Now}
}

// NewExpanderWithClock is NewExpander with an injected clock.
func NewExpanderWithClock(now func() time.Time) *Expander {
	return &Expander{now: now}
}

// Validate checks a spec without expanding it, in the same order Expand does:
// shape, then bounds, then cadence.
func Validate(spec Spec) error {
	hasExplicit := len(spec.ExplicitTimes) > 0
	hasSymbolic := len(spec.SymbolicTimings) > 0
	switch {
	case hasExplicit && hasSymbolic:
		return newError(ErrInvalidSpec, "explicit times and symbolic timings are mutually exclusive")
	case !hasExplicit && !hasSymbolic:
		return newError(ErrInvalidSpec, "one of explicit times or symbolic timings is required")
	}
	for _, code := range spec.SymbolicTimings {
		if !code.IsSymbolic() {
			return newError(ErrUnsupportedSymbolicCode, "%q", code)
		}
	}

	switch b := spec.Bounds.(type) {
	case DateRange:
		if DateOf(b.End).Before(DateOf(b.Start)) {
			return newError(ErrInvalidSpec, "bounds end %s precedes start %s",
				b.End.Format("2006-01-02"), b.Start.Format("2006-01-02"))
		}
	case OpenDuration:
		if b.Count <= 0 {
			return newError(ErrInvalidSpec, "duration count must be positive, got %d", b.Count)
		}
		if b.Unit != UnitDay && b.Unit != UnitWeek {
			return newError(ErrUnsupportedDurationUnit, "%q", b.Unit)
		}
		if b.Count > MaxSpanDays || (b.Unit == UnitWeek && b.Count > MaxSpanDays/7) {
			return newError(ErrInvalidSpec, "duration of %d %s exceeds %d days", b.Count, b.Unit, MaxSpanDays)
		}
	case nil:
		return newError(ErrInvalidSpec, "bounds are required")
	default:
		return newError(ErrInvalidSpec, "unsupported bounds %T", b)
	}

	if spec.PeriodValue != 1 || spec.PeriodUnit != PeriodDay {
		return newError(ErrUnsupportedCadence, "every %d %s", spec.PeriodValue, spec.PeriodUnit)
	}
	return nil
}

// Expand returns every occurrence of spec in ascending day order, and within a
// day in the order the times or codes are listed. On error nothing is returned.
func (e *Expander) Expand(spec Spec, opts ExpandOptions) ([]Occurrence, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	start, span := e.window(spec.Bounds, opts, loc)
	if span < 0 || span > MaxSpanDays {
		return nil, newError(ErrInvalidSpec, "span of %d days is outside 0..%d", span, MaxSpanDays)
	}

	match := everyDay
	if len(spec.DaysOfWeek) > 0 {
		match = weekdaySet(spec.DaysOfWeek)
	}

	perDay := len(spec.ExplicitTimes) + len(spec.SymbolicTimings)
	out := make([]Occurrence, 0, span*perDay)
	y, m, d := start.Date()
	for i := 0; i < span; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if !match(day.Weekday()) {
			continue
		}
		for _, c := range spec.ExplicitTimes {
			out = append(out, Occurrence{At: c.On(day, loc), Exact: true, Timing: Exact})
		}
		for _, code := range spec.SymbolicTimings {
			out = append(out, Occurrence{At: day, Exact: false, Timing: code})
		}
	}
	return out, nil
}

// window resolves the bounds union into a first day and a number of days.
func (e *Expander) window(b Bounds, opts ExpandOptions, loc *time.Location) (time.Time, int) {
	switch b := b.(type) {
	case DateRange:
		start, end := DateOf(b.Start), DateOf(b.End)
		return start, daysBetween(start, end)
	case OpenDuration:
		var start time.Time
		if opts.Start != nil {
			start = *opts.Start
		} else {
			start = e.now().In(loc)
		}
		days := b.Count
		if b.Unit == UnitWeek {
			days *= 7
		}
		return DateOf(start), days
	}
	return time.Time{}, 0
}

// daysBetween counts whole calendar days between two UTC midnights.
func daysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}

func everyDay(time.Weekday) bool { return true }

func weekdaySet(days []time.Weekday) func(time.Weekday) bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return func(d time.Weekday) bool { return set[d] }
}
