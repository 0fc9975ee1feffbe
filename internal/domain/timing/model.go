package timing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventTiming is a FHIR EventTiming code ("ACM", "MORN.early", ...) or the
// EXACT sentinel used for events generated from explicit clock times.
type EventTiming string

const (
	Exact EventTiming = "EXACT"

	Morning        EventTiming = "MORN"
	MorningEarly   EventTiming = "MORN.early"
	MorningLate    EventTiming = "MORN.late"
	Noon           EventTiming = "NOON"
	Afternoon      EventTiming = "AFT"
	AfternoonEarly EventTiming = "AFT.early"
	AfternoonLate  EventTiming = "AFT.late"
	Evening        EventTiming = "EVE"
	EveningEarly   EventTiming = "EVE.early"
	EveningLate    EventTiming = "EVE.late"
	Night          EventTiming = "NIGHT"
	AfterSleep     EventTiming = "PHS"

	BeforeSleep EventTiming = "HS"
	Wake        EventTiming = "WAKE"

	Meal            EventTiming = "C"
	Breakfast       EventTiming = "CM"
	Lunch           EventTiming = "CD"
	Dinner          EventTiming = "CV"
	BeforeMeal      EventTiming = "AC"
	BeforeBreakfast EventTiming = "ACM"
	BeforeLunch     EventTiming = "ACD"
	BeforeDinner    EventTiming = "ACV"
	AfterMeal       EventTiming = "PC"
	AfterBreakfast  EventTiming = "PCM"
	AfterLunch      EventTiming = "PCD"
	AfterDinner     EventTiming = "PCV"
)

var knownTimings = map[EventTiming]bool{
	Morning: true, MorningEarly: true, MorningLate: true, Noon: true,
	Afternoon: true, AfternoonEarly: true, AfternoonLate: true,
	Evening: true, EveningEarly: true, EveningLate: true, Night: true, AfterSleep: true,
	BeforeSleep: true, Wake: true,
	Meal: true, Breakfast: true, Lunch: true, Dinner: true,
	BeforeMeal: true, BeforeBreakfast: true, BeforeLunch: true, BeforeDinner: true,
	AfterMeal: true, AfterBreakfast: true, AfterLunch: true, AfterDinner: true,
}

// ParseEventTiming accepts FHIR codes and the underscore spelling used by some
// clients ("MORN_early"). EXACT is accepted; anything else unknown is an error.
func ParseEventTiming(s string) (EventTiming, error) {
	code := EventTiming(strings.Replace(strings.TrimSpace(s), "_", ".", 1))
	if code == Exact || knownTimings[code] {
		return code, nil
	}
	return "", newError(ErrUnsupportedSymbolicCode, "%q", s)
}

// IsSymbolic reports whether the code is a known symbolic timing (not EXACT).
func (t EventTiming) IsSymbolic() bool {
	return knownTimings[t]
}

// ClockTime is a local time of day in minutes since midnight.
type ClockTime int

// ParseClockTime parses "HH:MM" or "HH:MM:SS". Seconds are dropped.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, newError(ErrInvalidSpec, "time of day %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, newError(ErrInvalidSpec, "time of day %q has invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, newError(ErrInvalidSpec, "time of day %q has invalid minute", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, newError(ErrInvalidSpec, "time of day %q has invalid second", s)
		}
	}
	return ClockTime(h*60 + m), nil
}

func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) Hour() int { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// On returns the instant at this clock time on the calendar date of day, in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, int(c), 0, 0, loc)
}

// Overrides maps a symbolic code to a patient-declared clock time.
type Overrides map[EventTiming]ClockTime

// DurationUnit and PeriodUnit use the FHIR units-of-time codes.
type DurationUnit string

type PeriodUnit string

const (
	UnitSecond DurationUnit = "s"
	UnitMinute DurationUnit = "min"
	UnitHour   DurationUnit = "h"
	UnitDay    DurationUnit = "d"
	UnitWeek   DurationUnit = "wk"
	UnitMonth  DurationUnit = "mo"
	UnitYear   DurationUnit = "a"

	PeriodDay PeriodUnit = "d"
)

// Bounds is either a DateRange or an OpenDuration.
type Bounds interface {
	isBounds()
}

// DateRange is an explicit calendar range. Only the date parts are used and the
// end date is exclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// OpenDuration is a length of time with no fixed start.
type OpenDuration struct {
	Count int
	Unit  DurationUnit
}

func (DateRange) isBounds() {}
func (OpenDuration) isBounds() {}

// Spec is the recurrence description of one dosage or occurrence instruction.
type Spec struct {
	Bounds          Bounds
	PeriodValue     int
	PeriodUnit      PeriodUnit
	DaysOfWeek      []time.Weekday
	ExplicitTimes   []ClockTime
	SymbolicTimings []EventTiming
}

// Interval is a half-open [Start, End) range of instants.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

var weekdayCodes = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday parses a FHIR days-of-week code ("mon").
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayCodes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, newError(ErrInvalidSpec, "unknown day of week %q", s)
	}
	return d, nil
}

// WeekdayCode is the inverse of ParseWeekday.
func WeekdayCode(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}

// Profile is what the scheduler needs to know about a patient: the zone used
// to place events and the declared times that replace default windows.
type Profile struct {
	Timezone  string    `json:"timezone"`
	Overrides Overrides `json:"overrides,omitempty"`
}
