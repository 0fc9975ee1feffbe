package healthevent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

// ResourceRef links an event back to the order that produced it. The scheduler
// never interprets it.
type ResourceRef struct {
	EventType        string `json:"event_type"`
	EventReferenceID string `json:"event_reference_id"`
	Text             string `json:"text,omitempty"`
}

// HealthEvent is one scheduled occurrence for a patient.
type HealthEvent struct {
	ID               uuid.UUID          `json:"id"`
	PatientID        uuid.UUID          `json:"patient_id"`
	EventDateTime    time.Time          `json:"event_datetime"`
	ExactTimeIsSetup bool               `json:"exact_time_is_setup"`
	EventTiming      timing.EventTiming `json:"event_timing"`
	Resource         ResourceRef        `json:"resource"`
	// Sequence is the position within the series as expanded.
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// Instruction is one schedulable part of an order, such as a single dosage
// instruction of a MedicationRequest.
type Instruction struct {
	Text   string
	Timing fhirmodels.Timing
	// Start anchors open-ended durations. Nil means the scheduling day.
	Start *time.Time
}

// Order is anything that produces a series of health events.
type Order interface {
	EventType() string
	ReferenceID() string
	SubjectID() uuid.UUID
	Instructions() []Instruction
}

// Scheduler is the part of Service driven by the order lifecycle.
type Scheduler interface {
	OnOrderCreated(ctx context.Context, order Order) (*EventBatch, error)
	OnOrderUpdated(ctx context.Context, order Order) (*EventBatch, error)
	OnOrderDeleted(ctx context.Context, referenceID string) (int64, error)
}

// EventBatch is the result of scheduling one order.
type EventBatch struct {
	ReferenceID string         `json:"reference_id"`
	Events      []*HealthEvent `json:"events"`
}

// WindowQuery selects a patient's events due in a resolved window: exact-time
// events inside Window, plus events of the symbolic Timing placed on Day.
// An empty Timing restricts the result to exact-time events.
type WindowQuery struct {
	PatientID uuid.UUID
	Window    timing.Interval
	Timing    timing.EventTiming
	Day       timing.Interval
}
