package medication

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
	fhirmodels.MedRequestActive: true, fhirmodels.MedRequestOnHold: true,
	fhirmodels.MedRequestCancelled: true, fhirmodels.MedRequestCompleted: true,
	fhirmodels.MedRequestEnteredInError: true, fhirmodels.MedRequestStopped: true,
	fhirmodels.MedRequestDraft: true, fhirmodels.MedRequestUnknown: true,
}

var validIntents = map[string]bool{
	"proposal": true, "plan": true, "order": true, "original-order": true,
	"reflex-order": true, "filler-order": true, "instance-order": true, "option": true,
}

// unscheduled statuses keep no events.
var unscheduled = map[string]bool{
	fhirmodels.MedRequestCancelled:      true,
	fhirmodels.MedRequestStopped:        true,
	fhirmodels.MedRequestEnteredInError: true,
}

type Service struct {
	requests  MedicationRequestRepository
	scheduler healthevent.Scheduler
	inTx      db.TxFunc
	logger    zerolog.Logger
}

func NewService(requests MedicationRequestRepository, scheduler healthevent.Scheduler) *Service {
	return &Service{
		requests:  requests,
		scheduler: scheduler,
		inTx:      db.NoTx,
		logger:    zerolog.Nop(),
	}
}

// SetTxFunc makes order writes and their scheduling one unit of work.
func (s *Service) SetTxFunc(fn db.TxFunc) {
	s.inTx = fn
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

func validate(mr *MedicationRequest) error {
	if mr.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if strings.TrimSpace(mr.MedicationCode) == "" {
		return fmt.Errorf("%w: medication_code is required", ErrInvalid)
	}
	if mr.Status == "" {
		mr.Status = fhirmodels.MedRequestActive
	}
	if !validStatuses[mr.Status] {
		return fmt.Errorf("%w: status %q", ErrInvalid, mr.Status)
	}
	if mr.Intent == "" {
		mr.Intent = "order"
	}
	if !validIntents[mr.Intent] {
		return fmt.Errorf("%w: intent %q", ErrInvalid, mr.Intent)
	}
	return nil
}

// CreateMedicationRequest stores mr and schedules its doses. When scheduling
// fails the request is removed again and the scheduling error is returned.
func (s *Service) CreateMedicationRequest(ctx context.Context, mr *MedicationRequest) (*healthevent.EventBatch, error) {
	if err := validate(mr); err != nil {
		return nil, err
	}
	var batch *healthevent.EventBatch
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.requests.Create(ctx, mr); err != nil {
			return err
		}
		if unscheduled[mr.Status] {
			batch = &healthevent.EventBatch{ReferenceID: mr.ReferenceID()}
			return nil
		}
		b, err := s.scheduler.OnOrderCreated(ctx, mr)
		if err != nil {
			if derr := s.requests.Delete(ctx, mr.ID); derr != nil {
				zerolog.Ctx(ctx).Error().Err(derr).Str("fhir_id", mr.FHIRID).Msg("compensating delete failed")
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

func (s *Service) GetMedicationRequest(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) GetMedicationRequestByFHIRID(ctx context.Context, fhirID string) (*MedicationRequest, error) {
	return s.requests.GetByFHIRID(ctx, fhirID)
}

func (s *Service) ListMedicationRequests(ctx context.Context, f Filter, limit, offset int) ([]*MedicationRequest, int, error) {
	return s.requests.List(ctx, f, limit, offset)
}

// UpdateMedicationRequest stores mr and brings its series in line: stopped,
// cancelled and entered-in-error requests lose their events, any other
// update regenerates them. A failed regeneration restores the previous
// version.
func (s *Service) UpdateMedicationRequest(ctx context.Context, mr *MedicationRequest) (*healthevent.EventBatch, error) {
	if err := validate(mr); err != nil {
		return nil, err
	}
	var batch *healthevent.EventBatch
	err := s.inTx(ctx, func(ctx context.Context) error {
		prev, err := s.requests.GetByID(ctx, mr.ID)
		if err != nil {
			return err
		}
		mr.FHIRID = prev.FHIRID
		mr.CreatedAt = prev.CreatedAt
		if err := s.requests.Update(ctx, mr); err != nil {
			return err
		}

		if unscheduled[mr.Status] {
			if _, err := s.scheduler.OnOrderDeleted(ctx, mr.ReferenceID()); err != nil {
				return err
			}
			batch = &healthevent.EventBatch{ReferenceID: mr.ReferenceID()}
			return nil
		}
		b, err := s.scheduler.OnOrderUpdated(ctx, mr)
		if err != nil {
			if rerr := s.requests.Update(ctx, prev); rerr != nil {
				zerolog.Ctx(ctx).Error().Err(rerr).Str("fhir_id", mr.FHIRID).Msg("restoring previous version failed")
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

// DeleteMedicationRequest removes the request and its series.
func (s *Service) DeleteMedicationRequest(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		mr, err := s.requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requests.Delete(ctx, id); err != nil {
			return err
		}
		n, err := s.scheduler.OnOrderDeleted(ctx, mr.ReferenceID())
		if err != nil {
			return err
		}
		s.logger.Debug().Str("fhir_id", mr.FHIRID).Int64("events", n).Msg("medication request deleted")
		return nil
	})
}
