package timing

import (
	"fmt"

	"github.com/spf13/viper"
)

// Window is the default local time window of one symbolic code. When End is not
// after Start the window ends on the following calendar day.
type Window struct {
	Code  EventTiming `json:"code"`
	Start ClockTime   `json:"start"`
	End   ClockTime   `json:"end"`
}

// WrapsMidnight reports whether the window ends on the next calendar day.
func (w Window) WrapsMidnight() bool {
	return w.End <= w.Start
}

// Table maps symbolic codes to their default windows.
type Table map[EventTiming]Window

// Several rows share identical windows (the lunch-relative codes and AFT, the
// dinner-relative codes and EVE, the breakfast-relative codes with WAKE/PHS).
// They are kept as configured; see DESIGN.md before changing them.
var defaultWindows = []Window{
	{Morning, MustClockTime("06:00"), MustClockTime("12:00")},
	{MorningEarly, MustClockTime("06:00"), MustClockTime("09:00")},
	{MorningLate, MustClockTime("09:00"), MustClockTime("12:00")},
	{Noon, MustClockTime("11:30"), MustClockTime("12:30")},
	{Afternoon, MustClockTime("12:00"), MustClockTime("18:00")},
	{AfternoonEarly, MustClockTime("12:00"), MustClockTime("15:00")},
	{AfternoonLate, MustClockTime("15:00"), MustClockTime("18:00")},
	{Evening, MustClockTime("18:00"), MustClockTime("21:00")},
	{EveningEarly, MustClockTime("18:00"), MustClockTime("19:30")},
	{EveningLate, MustClockTime("19:30"), MustClockTime("21:00")},
	{Night, MustClockTime("18:00"), MustClockTime("06:00")},
	{AfterSleep, MustClockTime("06:00"), MustClockTime("09:00")},
	{Wake, MustClockTime("06:00"), MustClockTime("09:00")},
	{BeforeSleep, MustClockTime("21:00"), MustClockTime("00:00")},
	{Meal, MustClockTime("06:00"), MustClockTime("21:00")},
	{BeforeMeal, MustClockTime("06:00"), MustClockTime("21:00")},
	{AfterMeal, MustClockTime("06:00"), MustClockTime("21:00")},
	{Breakfast, MustClockTime("06:00"), MustClockTime("09:00")},
	{BeforeBreakfast, MustClockTime("06:00"), MustClockTime("09:00")},
	{AfterBreakfast, MustClockTime("06:00"), MustClockTime("09:00")},
	{Lunch, MustClockTime("12:00"), MustClockTime("18:00")},
	{BeforeLunch, MustClockTime("12:00"), MustClockTime("18:00")},
	{AfterLunch, MustClockTime("12:00"), MustClockTime("18:00")},
	{Dinner, MustClockTime("18:00"), MustClockTime("21:00")},
	{BeforeDinner, MustClockTime("18:00"), MustClockTime("21:00")},
	{AfterDinner, MustClockTime("18:00"), MustClockTime("21:00")},
}

// DefaultTable returns a fresh copy of the built-in window table.
func DefaultTable() Table {
	t := make(Table, len(defaultWindows))
	for _, w := range defaultWindows {
		t[w.Code] = w
	}
	return t
}

// NewTable builds a table from rows, rejecting unknown codes, duplicates and
// empty windows.
func NewTable(rows []Window) (Table, error) {
	t := make(Table, len(rows))
	for _, w := range rows {
		if !w.Code.IsSymbolic() {
			return nil, newError(ErrUnsupportedSymbolicCode, "window table row %q", w.Code)
		}
		if _, dup := t[w.Code]; dup {
			return nil, newError(ErrInvalidSpec, "window table has %s twice", w.Code)
		}
		if w.Start == w.End {
			return nil, newError(ErrInvalidSpec, "window for %s is empty", w.Code)
		}
		t[w.Code] = w
	}
	return t, nil
}

type windowRow struct {
	Code  string `mapstructure:"code"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// LoadTable reads a window table file (YAML, JSON or TOML, by extension) with a
// top-level "windows" list. Rows in the file replace the matching default rows;
// codes absent from the file keep their defaults.
func LoadTable(path string) (Table, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read window table %s: %w", path, err)
	}

	var rows []windowRow
	if err := v.UnmarshalKey("windows", &rows); err != nil {
		return nil, fmt.Errorf("decode window table %s: %w", path, err)
	}

	parsed := make([]Window, 0, len(rows))
	for _, row := range rows {
		code, err := ParseEventTiming(row.Code)
		if err != nil {
			return nil, err
		}
		start, err := ParseClockTime(row.Start)
		if err != nil {
			return nil, fmt.Errorf("window %s start: %w", row.Code, err)
		}
		end, err := ParseClockTime(row.End)
		if err != nil {
			return nil, fmt.Errorf("window %s end: %w", row.Code, err)
		}
		parsed = append(parsed, Window{Code: code, Start: start, End: end})
	}
	overrides, err := NewTable(parsed)
	if err != nil {
		return nil, err
	}

	t := DefaultTable()
	for code, w := range overrides {
		t[code] = w
	}
	return t, nil
}
