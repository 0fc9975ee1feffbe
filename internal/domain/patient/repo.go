package patient

import (
	"context"

	"github.com/google/uuid"
)

type ProfileRepository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*TimingProfile, error)
	Upsert(ctx context.Context, p *TimingProfile) error
	Delete(ctx context.Context, patientID uuid.UUID) error
}
