package medication

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

const EventType = "MedicationRequest"

// Dosage is one dosageInstruction of a MedicationRequest.
type Dosage struct {
	Sequence int               `json:"sequence,omitempty"`
	Text     string            `json:"text,omitempty"`
	Timing   fhirmodels.Timing `json:"timing"`
}

// MedicationRequest maps to the medication_requests table (FHIR MedicationRequest resource).
type MedicationRequest struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	FHIRID             string     `db:"fhir_id" json:"fhir_id"`
	Status             string     `db:"status" json:"status"`
	Intent             string     `db:"intent" json:"intent"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	MedicationCode     string     `db:"medication_code" json:"medication_code"`
	MedicationDisplay  string     `db:"medication_display" json:"medication_display"`
	ValidityStart      *time.Time `db:"validity_start" json:"validity_start,omitempty"`
	DosageInstructions []Dosage   `db:"dosage_instructions" json:"dosage_instructions"`
	Note               *string    `db:"note" json:"note,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

func (mr *MedicationRequest) EventType() string { return EventType }

// ReferenceID is the literal FHIR reference stored on every generated event.
func (mr *MedicationRequest) ReferenceID() string { return EventType + "/" + mr.FHIRID }

func (mr *MedicationRequest) SubjectID() uuid.UUID { return mr.PatientID }

// Instructions turns each dosage into one schedulable instruction. The
// validity start anchors open-ended durations.
func (mr *MedicationRequest) Instructions() []healthevent.Instruction {
	out := make([]healthevent.Instruction, 0, len(mr.DosageInstructions))
	for _, d := range mr.DosageInstructions {
		out = append(out, healthevent.Instruction{Text: d.Text, Timing: d.Timing, Start: mr.ValidityStart})
	}
	return out
}

func (mr *MedicationRequest) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "MedicationRequest",
		"id":           mr.FHIRID,
		"status":       mr.Status,
		"intent":       mr.Intent,
		"medicationCodeableConcept": fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{Code: mr.MedicationCode, Display: mr.MedicationDisplay}},
		},
		"subject": fhirmodels.Reference{Reference: "Patient/" + mr.PatientID.String()},
		"meta":    map[string]interface{}{"lastUpdated": mr.UpdatedAt.Format(time.RFC3339)},
	}
	if len(mr.DosageInstructions) > 0 {
		dosages := make([]map[string]interface{}, 0, len(mr.DosageInstructions))
		for _, d := range mr.DosageInstructions {
			dm := map[string]interface{}{"timing": d.Timing}
			if d.Sequence != 0 {
				dm["sequence"] = d.Sequence
			}
			if d.Text != "" {
				dm["text"] = d.Text
			}
			dosages = append(dosages, dm)
		}
		result["dosageInstruction"] = dosages
	}
	if mr.ValidityStart != nil {
		result["dispenseRequest"] = map[string]interface{}{
			"validityPeriod": fhirmodels.Period{Start: mr.ValidityStart.Format("2006-01-02")},
		}
	}
	if mr.Note != nil {
		result["note"] = []map[string]string{{"text": *mr.Note}}
	}
	return result
}

// Filter narrows List.
type Filter struct {
	PatientID *uuid.UUID
	Status    string
}
