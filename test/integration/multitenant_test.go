package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/medication"
	"github.com/ehr/healthevents/internal/domain/patient"
)

func TestMultiTenantIsolation(t *testing.T) {
	tenantA := newTenant(t, "tenanta")
	tenantB := newTenant(t, "tenantb")
	s := newStack()
	patientID := uuid.New()

	var mr *medication.MedicationRequest
	inTenant(t, tenantA, func(ctx context.Context) {
		if err := s.patients.PutProfile(ctx, &patient.TimingProfile{PatientID: patientID, Timezone: "Europe/Paris"}); err != nil {
			t.Fatalf("put profile: %v", err)
		}
		mr = newMedicationRequest(patientID, dailyAt("2024-01-01", "2024-01-04", "09:00"))
		if _, err := s.medications.CreateMedicationRequest(ctx, mr); err != nil {
			t.Fatalf("create in tenant A: %v", err)
		}
	})

	inTenant(t, tenantB, func(ctx context.Context) {
		if _, err := s.medications.GetMedicationRequest(ctx, mr.ID); !errors.Is(err, medication.ErrNotFound) {
			t.Errorf("tenant B should not see tenant A request, got %v", err)
		}
		_, total, err := s.events.EventsForReference(ctx, mr.ReferenceID(), 50, 0)
		if err != nil {
			t.Fatalf("events in tenant B: %v", err)
		}
		if total != 0 {
			t.Errorf("tenant B sees %d of tenant A's events", total)
		}
		if _, err := s.patients.GetProfile(ctx, patientID); !errors.Is(err, patient.ErrNotFound) {
			t.Errorf("tenant B should not see tenant A profile, got %v", err)
		}
	})

	inTenant(t, tenantA, func(ctx context.Context) {
		_, total, err := s.events.EventsForReference(ctx, mr.ReferenceID(), 50, 0)
		if err != nil {
			t.Fatalf("events in tenant A: %v", err)
		}
		if total != 3 {
			t.Errorf("expected 3 events in tenant A, got %d", total)
		}
	})
}
