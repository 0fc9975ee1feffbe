package healthevent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/internal/platform/telemetry"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

// PatientProvider supplies a patient's zone and overrides. Unknown patients
// get a default profile rather than an error.
type PatientProvider interface {
	TimingProfile(ctx context.Context, patientID uuid.UUID) (timing.Profile, error)
}

var _ Scheduler = (*Service)(nil)

// Service turns orders into event series and answers window queries.
type Service struct {
	store    Store
	patients PatientProvider
	resolver *timing.Resolver
	expander *timing.Expander
	locker   SeriesLocker
	tracer   trace.Tracer
	metrics  *telemetry.SchedulerMetrics
	logger   zerolog.Logger
}

func NewService(store Store, patients PatientProvider, resolver *timing.Resolver, expander *timing.Expander) *Service {
	if resolver == nil {
		resolver = timing.NewResolver()
	}
	if expander == nil {
		expander = timing.NewExpander()
	}
	return &Service{
		store:    store,
		patients: patients,
		resolver: resolver,
		expander: expander,
		locker:   NewKeyedMutex(),
		tracer:   telemetry.Tracer(),
		logger:   zerolog.Nop(),
	}
}

// SetLocker replaces the in-process series locker.
func (s *Service) SetLocker(l SeriesLocker) {
	s.locker = l
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// SetMetrics attaches scheduler instruments. Without them nothing is recorded.
func (s *Service) SetMetrics(m *telemetry.SchedulerMetrics) {
	s.metrics = m
}

func (s *Service) Resolver() *timing.Resolver {
	return s.resolver
}

// OnOrderCreated expands every instruction of order and stores the events in
// one atomic batch. An order without instructions yields an empty batch.
func (s *Service) OnOrderCreated(ctx context.Context, order Order) (*EventBatch, error) {
	ref := order.ReferenceID()
	ctx, span := s.startSpan(ctx, "healthevent.OnOrderCreated", order)
	defer span.End()

	events, err := s.build(ctx, order)
	if err != nil {
		return nil, s.fail(ctx, span, "schedule", ref, err)
	}
	if len(events) > 0 {
		if err := s.store.CreateEvents(ctx, events); err != nil {
			return nil, s.fail(ctx, span, "schedule", ref, storeErr(err))
		}
	}

	s.recordCreated(ctx, order.EventType(), len(events))
	span.SetAttributes(attribute.Int("events.count", len(events)))
	s.log(ctx).Info().Str("reference", ref).Int("events", len(events)).Msg("order scheduled")
	return &EventBatch{ReferenceID: ref, Events: events}, nil
}

// OnOrderUpdated regenerates the series of order. The new series is expanded
// before anything is touched, so a bad update leaves the old series in place.
func (s *Service) OnOrderUpdated(ctx context.Context, order Order) (*EventBatch, error) {
	ref := order.ReferenceID()
	ctx, span := s.startSpan(ctx, "healthevent.OnOrderUpdated", order)
	defer span.End()

	unlock, err := s.locker.Lock(ctx, ref)
	if err != nil {
		return nil, s.fail(ctx, span, "reschedule", ref, err)
	}
	defer unlock()

	events, err := s.build(ctx, order)
	if err != nil {
		return nil, s.fail(ctx, span, "reschedule", ref, err)
	}
	if err := s.store.ReplaceSeries(ctx, ref, events); err != nil {
		return nil, s.fail(ctx, span, "reschedule", ref, storeErr(err))
	}

	s.recordCreated(ctx, order.EventType(), len(events))
	s.log(ctx).Info().Str("reference", ref).Int("events", len(events)).Msg("order rescheduled")
	return &EventBatch{ReferenceID: ref, Events: events}, nil
}

// OnOrderDeleted removes the series produced for referenceID and returns how
// many events were removed. Removing an absent series is not an error.
func (s *Service) OnOrderDeleted(ctx context.Context, referenceID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "healthevent.OnOrderDeleted",
		trace.WithAttributes(attribute.String("order.reference", referenceID)))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, referenceID)
	if err != nil {
		return 0, s.fail(ctx, span, "unschedule", referenceID, err)
	}
	defer unlock()

	n, err := s.store.DeleteEventSeries(ctx, referenceID)
	if err != nil {
		return 0, s.fail(ctx, span, "unschedule", referenceID, storeErr(err))
	}
	if s.metrics != nil {
		s.metrics.SeriesDeleted.Add(ctx, 1)
	}
	s.log(ctx).Info().Str("reference", referenceID).Int64("events", n).Msg("series removed")
	return n, nil
}

// ResolveQueryWindow returns the interval a query for code at instant at
// covers for the patient. EXACT yields a small window around at. An empty tz
// uses the patient's zone.
func (s *Service) ResolveQueryWindow(ctx context.Context, patientID uuid.UUID, at time.Time, code timing.EventTiming, tz string) (timing.Interval, error) {
	window, _, err := s.resolve(ctx, patientID, at, code, tz)
	return window, err
}

func (s *Service) resolve(ctx context.Context, patientID uuid.UUID, at time.Time, code timing.EventTiming, tz string) (timing.Interval, *time.Location, error) {
	if code == timing.Exact {
		return s.resolver.ExactWindow(at), nil, nil
	}
	profile, loc, err := s.profile(ctx, patientID, tz)
	if err != nil {
		return timing.Interval{}, nil, err
	}
	window, err := s.resolver.Resolve(at, code, profile.Overrides, loc)
	if err != nil {
		return timing.Interval{}, nil, err
	}
	return window, loc, nil
}

// EventsForReference lists the series of one order in expansion order.
func (s *Service) EventsForReference(ctx context.Context, referenceID string, limit, offset int) ([]*HealthEvent, int, error) {
	return s.store.ListByReference(ctx, referenceID, limit, offset)
}

// EventsInWindow lists what is due for a patient in the window resolved for
// code at instant at. The resolved window is returned alongside the events.
func (s *Service) EventsInWindow(ctx context.Context, patientID uuid.UUID, at time.Time, code timing.EventTiming, tz string, limit, offset int) ([]*HealthEvent, int, timing.Interval, error) {
	window, loc, err := s.resolve(ctx, patientID, at, code, tz)
	if err != nil {
		return nil, 0, timing.Interval{}, err
	}
	q := WindowQuery{PatientID: patientID, Window: window}
	if code != timing.Exact {
		q.Timing = code
		q.Day = timing.LocalDay(at, loc)
	}
	events, total, err := s.store.ListInWindow(ctx, q, limit, offset)
	return events, total, window, err
}

// EventsForTiming lists events of the symbolic code placed on the given local
// calendar date in the patient's zone.
func (s *Service) EventsForTiming(ctx context.Context, patientID uuid.UUID, date time.Time, code timing.EventTiming, limit, offset int) ([]*HealthEvent, int, error) {
	if !code.IsSymbolic() {
		return nil, 0, fmt.Errorf("lookup by timing: %w", &timing.Error{Kind: timing.ErrUnsupportedSymbolicCode, Detail: string(code)})
	}
	_, loc, err := s.profile(ctx, patientID, "")
	if err != nil {
		return nil, 0, err
	}
	y, m, d := date.Date()
	q := WindowQuery{
		PatientID: patientID,
		Timing:    code,
		Day:       timing.LocalDay(time.Date(y, m, d, 12, 0, 0, 0, loc), loc),
	}
	return s.store.ListInWindow(ctx, q, limit, offset)
}

// Preview expands a FHIR timing without persisting anything.
func (s *Service) Preview(t fhirmodels.Timing, tz string, start *time.Time) ([]timing.Occurrence, error) {
	spec, err := timing.FromFHIR(t)
	if err != nil {
		return nil, err
	}
	loc, err := timing.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return s.expander.Expand(spec, timing.ExpandOptions{Location: loc, Start: start})
}

// build expands every instruction and concatenates the results in
// instruction order. Nothing is returned on the first failure.
func (s *Service) build(ctx context.Context, order Order) ([]*HealthEvent, error) {
	started := time.Now()
	_, loc, err := s.profile(ctx, order.SubjectID(), "")
	if err != nil {
		return nil, err
	}

	var events []*HealthEvent
	for i, ins := range order.Instructions() {
		spec, err := timing.FromFHIR(ins.Timing)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		occ, err := s.expander.Expand(spec, timing.ExpandOptions{Location: loc, Start: ins.Start})
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		for _, o := range occ {
			events = append(events, &HealthEvent{
				PatientID:        order.SubjectID(),
				EventDateTime:    o.At.UTC(),
				ExactTimeIsSetup: o.Exact,
				EventTiming:      o.Timing,
				Resource: ResourceRef{
					EventType:        order.EventType(),
					EventReferenceID: order.ReferenceID(),
					Text:             ins.Text,
				},
				Sequence: len(events),
			})
		}
	}

	if s.metrics != nil {
		s.metrics.ExpandDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000,
			metric.WithAttributes(attribute.String("event.type", order.EventType())))
	}
	return events, nil
}

// profile loads the patient's profile and the zone to use: tz when given,
// otherwise the profile's zone.
func (s *Service) profile(ctx context.Context, patientID uuid.UUID, tz string) (timing.Profile, *time.Location, error) {
	var profile timing.Profile
	if s.patients != nil {
		p, err := s.patients.TimingProfile(ctx, patientID)
		if err != nil {
			return timing.Profile{}, nil, fmt.Errorf("%w: %v", ErrPatientLookup, err)
		}
		profile = p
	}
	if tz == "" {
		tz = profile.Timezone
	}
	loc, err := timing.LoadLocation(tz)
	if err != nil {
		return timing.Profile{}, nil, err
	}
	return profile, loc, nil
}

func (s *Service) startSpan(ctx context.Context, name string, order Order) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("order.type", order.EventType()),
		attribute.String("order.reference", order.ReferenceID()),
		attribute.String("patient.id", order.SubjectID().String()),
	))
}

func (s *Service) fail(ctx context.Context, span trace.Span, op, ref string, err error) error {
	err = schedulingError(op, ref, err)
	telemetry.RecordError(span, err)

	kind := "other"
	var se *SchedulingError
	if errors.As(err, &se) && se.Kind() != nil {
		kind = se.Kind().Error()
	}
	if s.metrics != nil {
		s.metrics.SchedulingErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}

	evt := s.log(ctx).Error()
	if IsClientError(err) {
		evt = s.log(ctx).Warn()
	}
	evt.Err(err).Str("op", op).Str("reference", ref).Str("kind", kind).Msg("scheduling failed")
	return err
}

func (s *Service) recordCreated(ctx context.Context, eventType string, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.EventsCreated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event.type", eventType)))
	}
}

// log prefers the request-scoped logger when the context carries one.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func storeErr(err error) error {
	if errors.Is(err, ErrStoreWrite) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreWrite, err)
}
