package measurement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/internal/platform/db"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

var validStatuses = map[string]bool{
	fhirmodels.RequestDraft: true, fhirmodels.RequestActive: true, fhirmodels.RequestOnHold: true,
	fhirmodels.RequestRevoked: true, fhirmodels.RequestCompleted: true,
	fhirmodels.RequestEnteredInError: true, fhirmodels.RequestUnknown: true,
}

var validIntents = map[string]bool{
	"proposal": true, "plan": true, "directive": true, "order": true, "original-order": true,
	"reflex-order": true, "filler-order": true, "instance-order": true, "option": true,
}

// Revoked and entered-in-error orders keep no events.
func unscheduled(status string) bool {
	return status == fhirmodels.RequestRevoked || status == fhirmodels.RequestEnteredInError
}

type Service struct {
	orders    OrderRepository
	scheduler healthevent.Scheduler
	inTx      db.TxFunc
	logger    zerolog.Logger
}

func NewService(orders OrderRepository, scheduler healthevent.Scheduler) *Service {
	return &Service{orders: orders, scheduler: scheduler, inTx: db.NoTx, logger: zerolog.Nop()}
}

func (s *Service) SetTxFunc(fn db.TxFunc) {
	s.inTx = fn
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

func validate(o *MeasurementOrder) error {
	if o.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if strings.TrimSpace(o.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalid)
	}
	if o.OccurrenceTiming.Repeat == nil {
		return fmt.Errorf("%w: occurrence_timing.repeat is required", ErrInvalid)
	}
	if o.Status == "" {
		o.Status = fhirmodels.RequestActive
	}
	if !validStatuses[o.Status] {
		return fmt.Errorf("%w: status %q", ErrInvalid, o.Status)
	}
	if o.Intent == "" {
		o.Intent = "order"
	}
	if !validIntents[o.Intent] {
		return fmt.Errorf("%w: intent %q", ErrInvalid, o.Intent)
	}
	return nil
}

// CreateOrder stores o and schedules its occurrences, deleting it again when
// scheduling fails.
func (s *Service) CreateOrder(ctx context.Context, o *MeasurementOrder) (*healthevent.EventBatch, error) {
	if err := validate(o); err != nil {
		return nil, err
	}
	var batch *healthevent.EventBatch
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}
		if unscheduled(o.Status) {
			batch = &healthevent.EventBatch{ReferenceID: o.ReferenceID()}
			return nil
		}
		b, err := s.scheduler.OnOrderCreated(ctx, o)
		if err != nil {
			if derr := s.orders.Delete(ctx, o.ID); derr != nil {
				zerolog.Ctx(ctx).Error().Err(derr).Str("fhir_id", o.FHIRID).Msg("compensating delete failed")
			}
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*MeasurementOrder, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) GetOrderByFHIRID(ctx context.Context, fhirID string) (*MeasurementOrder, error) {
	return s.orders.GetByFHIRID(ctx, fhirID)
}

func (s *Service) ListOrders(ctx context.Context, f Filter, limit, offset int) ([]*MeasurementOrder, int, error) {
	return s.orders.List(ctx, f, limit, offset)
}

// UpdateOrder stores o and regenerates its series, or removes the series when
// the order was revoked or entered in error.
func (s *Service) UpdateOrder(ctx context.Context, o *MeasurementOrder) (*healthevent.EventBatch, error) {
	if err := validate(o); err != nil {
		return nil, err
	}
	var batch *healthevent.EventBatch
	err := s.inTx(ctx, func(ctx context.Context) error {
		prev, err := s.orders.GetByID(ctx, o.ID)
		if err != nil {
			return err
		}
		o.FHIRID = prev.FHIRID
		o.CreatedAt = prev.CreatedAt
		if err := s.orders.Update(ctx, o); err != nil {
			return err
		}
		if unscheduled(o.Status) {
			if _, err := s.scheduler.OnOrderDeleted(ctx, o.ReferenceID()); err != nil {
				return err
			}
			batch = &healthevent.EventBatch{ReferenceID: o.ReferenceID()}
			return nil
		}
		b, err := s.scheduler.OnOrderUpdated(ctx, o)
		if err != nil {
			if rerr := s.orders.Update(ctx, prev); rerr != nil {
				zerolog.Ctx(ctx).Error().Err(rerr).Str("fhir_id", o.FHIRID).Msg("restoring previous version failed")
			}
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.orders.Delete(ctx, id); err != nil {
			return err
		}
		n, err := s.scheduler.OnOrderDeleted(ctx, o.ReferenceID())
		if err != nil {
			return err
		}
		s.logger.Debug().Str("fhir_id", o.FHIRID).Int64("events", n).Msg("measurement order deleted")
		return nil
	})
}
