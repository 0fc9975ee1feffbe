package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/timing"
)

// ErrNotFound is returned when a patient has no stored timing profile.
var ErrNotFound = errors.New("timing profile not found")

// TimingProfile is the stored per-patient scheduling preference: the zone
// events are placed in and the clock times that replace default windows.
type TimingProfile struct {
	PatientID uuid.UUID        `json:"patient_id"`
	Timezone  string           `json:"timezone"`
	Overrides timing.Overrides `json:"overrides,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (p *TimingProfile) Profile() timing.Profile {
	return timing.Profile{Timezone: p.Timezone, Overrides: p.Overrides}
}

// Validate checks the zone name and that every override names a symbolic code.
func (p *TimingProfile) Validate() error {
	if p.PatientID == uuid.Nil {
		return errors.New("patient_id is required")
	}
	if _, err := timing.LoadLocation(p.Timezone); err != nil {
		return err
	}
	for code := range p.Overrides {
		if !code.IsSymbolic() {
			return &timing.Error{Kind: timing.ErrUnsupportedSymbolicCode, Detail: "override " + string(code)}
		}
	}
	return nil
}
