package measurement

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("measurement order not found")
	ErrInvalid  = errors.New("invalid measurement order")
)

type OrderRepository interface {
	Create(ctx context.Context, o *MeasurementOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*MeasurementOrder, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*MeasurementOrder, error)
	Update(ctx context.Context, o *MeasurementOrder) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*MeasurementOrder, int, error)
}
