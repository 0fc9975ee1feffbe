package fhirmodels

// FHIR R4 datatypes used by orders that carry a dosage or occurrence schedule.

// Timing is the FHIR Timing datatype as it appears on
// MedicationRequest.dosageInstruction[].timing and ServiceRequest.occurrenceTiming.
type Timing struct {
	Event  []string         `json:"event,omitempty"`
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

// TimingRepeat is Timing.repeat. Only the elements the scheduler understands are mapped;
// frequency/count/offset are carried through for display but do not drive expansion.
type TimingRepeat struct {
	BoundsPeriod   *Period   `json:"boundsPeriod,omitempty"`
	BoundsDuration *Duration `json:"boundsDuration,omitempty"`
	Count          *int      `json:"count,omitempty"`
	Frequency      *int      `json:"frequency,omitempty"`
	Period         *float64  `json:"period,omitempty"`
	PeriodUnit     string    `json:"periodUnit,omitempty"`
	DayOfWeek      []string  `json:"dayOfWeek,omitempty"`
	TimeOfDay      []string  `json:"timeOfDay,omitempty"`
	When           []string  `json:"when,omitempty"`
	Offset         *int      `json:"offset,omitempty"`
}

// Period holds FHIR date or dateTime strings.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Duration is a FHIR Duration quantity with a UCUM time unit code.
type Duration struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// UnitCode returns the coded unit, falling back to the human-readable unit.
func (d Duration) UnitCode() string {
	if d.Code != "" {
		return d.Code
	}
	return d.Unit
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference is a FHIR literal reference ("Patient/123").
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// MedicationRequest status codes.
const (
	MedRequestActive         = "active"
	MedRequestOnHold         = "on-hold"
	MedRequestCancelled      = "cancelled"
	MedRequestCompleted      = "completed"
	MedRequestEnteredInError = "entered-in-error"
	MedRequestStopped        = "stopped"
	MedRequestDraft          = "draft"
	MedRequestUnknown        = "unknown"
)

// ServiceRequest (request-status) codes.
const (
	RequestDraft          = "draft"
	RequestActive         = "active"
	RequestOnHold         = "on-hold"
	RequestRevoked        = "revoked"
	RequestCompleted      = "completed"
	RequestEnteredInError = "entered-in-error"
	RequestUnknown        = "unknown"
)
