package medication

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("medication request not found")
	ErrInvalid  = errors.New("invalid medication request")
)

type MedicationRequestRepository interface {
	Create(ctx context.Context, mr *MedicationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationRequest, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*MedicationRequest, error)
	Update(ctx context.Context, mr *MedicationRequest) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*MedicationRequest, int, error)
}
