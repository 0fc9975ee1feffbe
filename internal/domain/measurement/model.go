package measurement

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

const EventType = "ServiceRequest"

// MeasurementOrder maps to the measurement_orders table. It is a FHIR
// ServiceRequest for a recurring observation such as a blood-glucose check.
type MeasurementOrder struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	FHIRID           string            `db:"fhir_id" json:"fhir_id"`
	Status           string            `db:"status" json:"status"`
	Intent           string            `db:"intent" json:"intent"`
	PatientID        uuid.UUID         `db:"patient_id" json:"patient_id"`
	Code             string            `db:"code" json:"code"`
	CodeDisplay      string            `db:"code_display" json:"code_display"`
	OccurrenceTiming fhirmodels.Timing `db:"occurrence_timing" json:"occurrence_timing"`
	OccurrenceStart  *time.Time        `db:"occurrence_start" json:"occurrence_start,omitempty"`
	Note             *string           `db:"note" json:"note,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

func (o *MeasurementOrder) EventType() string    { return EventType }
func (o *MeasurementOrder) ReferenceID() string  { return EventType + "/" + o.FHIRID }
func (o *MeasurementOrder) SubjectID() uuid.UUID { return o.PatientID }

// Instructions returns the single occurrence schedule of the order.
func (o *MeasurementOrder) Instructions() []healthevent.Instruction {
	return []healthevent.Instruction{{
		Text:   o.CodeDisplay,
		Timing: o.OccurrenceTiming,
		Start:  o.OccurrenceStart,
	}}
}

func (o *MeasurementOrder) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "ServiceRequest",
		"id":           o.FHIRID,
		"status":       o.Status,
		"intent":       o.Intent,
		"code": fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{System: "http://loinc.org", Code: o.Code, Display: o.CodeDisplay}},
		},
		"subject":          fhirmodels.Reference{Reference: "Patient/" + o.PatientID.String()},
		"occurrenceTiming": o.OccurrenceTiming,
		"meta":             map[string]interface{}{"lastUpdated": o.UpdatedAt.Format(time.RFC3339)},
	}
	if o.Note != nil {
		result["note"] = []map[string]string{{"text": *o.Note}}
	}
	return result
}

type Filter struct {
	PatientID *uuid.UUID
	Status    string
	Code      string
}
