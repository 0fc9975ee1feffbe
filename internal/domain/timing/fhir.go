package timing

import (
	"math"
	"time"

	"github.com/ehr/healthevents/pkg/fhirmodels"
)

var fhirDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseFHIRDate parses a FHIR date or dateTime and returns midnight UTC of the
// calendar date as written.
func ParseFHIRDate(s string) (time.Time, error) {
	for _, layout := range fhirDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return time.Time{}, newError(ErrInvalidSpec, "invalid date %q", s)
}

// DateOf strips the clock part of t, keeping the calendar date of t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FromFHIR converts a FHIR Timing into a Spec. It resolves the bounds union once
// and rejects a repeat element that cannot be represented.
func FromFHIR(t fhirmodels.Timing) (Spec, error) {
	r := t.Repeat
	if r == nil {
		return Spec{}, newError(ErrInvalidSpec, "timing.repeat is required")
	}

	var spec Spec
	switch {
	case r.BoundsPeriod != nil && r.BoundsDuration != nil:
		return Spec{}, newError(ErrInvalidSpec, "boundsPeriod and boundsDuration are mutually exclusive")
	case r.BoundsPeriod != nil:
		if r.BoundsPeriod.Start == "" || r.BoundsPeriod.End == "" {
			return Spec{}, newError(ErrInvalidSpec, "boundsPeriod needs start and end")
		}
		start, err := ParseFHIRDate(r.BoundsPeriod.Start)
		if err != nil {
			return Spec{}, err
		}
		end, err := ParseFHIRDate(r.BoundsPeriod.End)
		if err != nil {
			return Spec{}, err
		}
		spec.Bounds = DateRange{Start: start, End: end}
	case r.BoundsDuration != nil:
		v := r.BoundsDuration.Value
		if v <= 0 || v != math.Trunc(v) {
			return Spec{}, newError(ErrInvalidSpec, "boundsDuration value %v must be a positive whole number", v)
		}
		if v > MaxSpanDays {
			return Spec{}, newError(ErrInvalidSpec, "boundsDuration value %v exceeds %d", v, MaxSpanDays)
		}
		spec.Bounds = OpenDuration{Count: int(v), Unit: DurationUnit(r.BoundsDuration.UnitCode())}
	default:
		return Spec{}, newError(ErrInvalidSpec, "timing.repeat needs boundsPeriod or boundsDuration")
	}

	spec.PeriodValue = 1
	if r.Period != nil {
		p := *r.Period
		if p != math.Trunc(p) {
			return Spec{}, newError(ErrUnsupportedCadence, "period %v", p)
		}
		spec.PeriodValue = int(p)
	}
	spec.PeriodUnit = PeriodDay
	if r.PeriodUnit != "" {
		spec.PeriodUnit = PeriodUnit(r.PeriodUnit)
	}

	for _, code := range r.DayOfWeek {
		d, err := ParseWeekday(code)
		if err != nil {
			return Spec{}, err
		}
		spec.DaysOfWeek = append(spec.DaysOfWeek, d)
	}
	for _, s := range r.TimeOfDay {
		c, err := ParseClockTime(s)
		if err != nil {
			return Spec{}, err
		}
		spec.ExplicitTimes = append(spec.ExplicitTimes, c)
	}
	for _, s := range r.When {
		code, err := ParseEventTiming(s)
		if err != nil {
			return Spec{}, err
		}
		if code == Exact {
			return Spec{}, newError(ErrUnsupportedSymbolicCode, "EXACT is not a FHIR event timing")
		}
		spec.SymbolicTimings = append(spec.SymbolicTimings, code)
	}
	return spec, nil
}

// ToFHIR renders a Spec back into a FHIR Timing. DateRange bounds are written as dates.
func ToFHIR(spec Spec) fhirmodels.Timing {
	r := &fhirmodels.TimingRepeat{PeriodUnit: string(spec.PeriodUnit)}
	p := float64(spec.PeriodValue)
	r.Period = &p
	switch b := spec.Bounds.(type) {
	case DateRange:
		r.BoundsPeriod = &fhirmodels.Period{
			Start: b.Start.Format("2006-01-02"),
			End:   b.End.Format("2006-01-02"),
		}
	case OpenDuration:
		r.BoundsDuration = &fhirmodels.Duration{
			Value:  float64(b.Count),
			Code:   string(b.Unit),
			System: "http://unitsofmeasure.org",
		}
	}
	for _, d := range spec.DaysOfWeek {
		r.DayOfWeek = append(r.DayOfWeek, WeekdayCode(d))
	}
	for _, c := range spec.ExplicitTimes {
		r.TimeOfDay = append(r.TimeOfDay, c.String()+":00")
	}
	for _, w := range spec.SymbolicTimings {
		r.When = append(r.When, string(w))
	}
	return fhirmodels.Timing{Repeat: r}
}
