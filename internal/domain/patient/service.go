package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/timing"
)

type Service struct {
	repo      ProfileRepository
	defaultTZ string
}

// NewService returns a profile service. Patients without a stored profile
// are placed in defaultTZ.
func NewService(repo ProfileRepository, defaultTZ string) *Service {
	return &Service{repo: repo, defaultTZ: defaultTZ}
}

// TimingProfile returns what the scheduler needs for patientID. A missing
// profile is not an error.
func (s *Service) TimingProfile(ctx context.Context, patientID uuid.UUID) (timing.Profile, error) {
	p, err := s.repo.Get(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return timing.Profile{Timezone: s.defaultTZ}, nil
	}
	if err != nil {
		return timing.Profile{}, err
	}
	profile := p.Profile()
	if profile.Timezone == "" {
		profile.Timezone = s.defaultTZ
	}
	return profile, nil
}

func (s *Service) GetProfile(ctx context.Context, patientID uuid.UUID) (*TimingProfile, error) {
	return s.repo.Get(ctx, patientID)
}

// PutProfile validates and stores p. Series already scheduled keep the zone
// they were expanded in.
func (s *Service) PutProfile(ctx context.Context, p *TimingProfile) error {
	if p.Timezone == "" {
		p.Timezone = s.defaultTZ
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid timing profile: %w", err)
	}
	return s.repo.Upsert(ctx, p)
}

func (s *Service) DeleteProfile(ctx context.Context, patientID uuid.UUID) error {
	return s.repo.Delete(ctx, patientID)
}
