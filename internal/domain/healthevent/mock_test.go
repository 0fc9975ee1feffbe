package healthevent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/pkg/fhirmodels"
)

// -- Mock Store --

type mockStore struct {
	mu       sync.Mutex
	series   map[string][]*HealthEvent
	writeErr error
	calls    int
}

func newMockStore() *mockStore {
	return &mockStore{series: make(map[string][]*HealthEvent)}
}

func (m *mockStore) CreateEvents(_ context.Context, events []*HealthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, e := range events {
		e.ID = uuid.New()
		e.CreatedAt = time.Now()
		ref := e.Resource.EventReferenceID
		m.series[ref] = append(m.series[ref], e)
	}
	return nil
}

func (m *mockStore) DeleteEventSeries(_ context.Context, ref string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	n := len(m.series[ref])
	delete(m.series, ref)
	return int64(n), nil
}

func (m *mockStore) ReplaceSeries(_ context.Context, ref string, events []*HealthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, e := range events {
		e.ID = uuid.New()
	}
	if len(events) == 0 {
		delete(m.series, ref)
		return nil
	}
	m.series[ref] = events
	return nil
}

func (m *mockStore) ListByReference(_ context.Context, ref string, limit, offset int) ([]*HealthEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.series[ref], limit, offset)
}

func (m *mockStore) ListInWindow(_ context.Context, q WindowQuery, limit, offset int) ([]*HealthEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HealthEvent
	for _, events := range m.series {
		for _, e := range events {
			if e.PatientID != q.PatientID {
				continue
			}
			exact := e.ExactTimeIsSetup && q.Window.Contains(e.EventDateTime)
			symbolic := q.Timing != "" && e.EventTiming == q.Timing && q.Day.Contains(e.EventDateTime)
			if exact || symbolic {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EventDateTime.Equal(out[j].EventDateTime) {
			return out[i].EventDateTime.Before(out[j].EventDateTime)
		}
		if out[i].Resource.EventReferenceID != out[j].Resource.EventReferenceID {
			return out[i].Resource.EventReferenceID < out[j].Resource.EventReferenceID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return page(out, limit, offset)
}

func (m *mockStore) count(ref string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.series[ref])
}

func page(items []*HealthEvent, limit, offset int) ([]*HealthEvent, int, error) {
	total := len(items)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return items[offset:end], total, nil
}

// -- Mock Patients --

type mockPatients struct {
	profiles map[uuid.UUID]timing.Profile
	err      error
}

func newMockPatients() *mockPatients {
	return &mockPatients{profiles: make(map[uuid.UUID]timing.Profile)}
}

func (m *mockPatients) TimingProfile(_ context.Context, id uuid.UUID) (timing.Profile, error) {
	if m.err != nil {
		return timing.Profile{}, m.err
	}
	return m.profiles[id], nil
}

// -- Test Order --

type testOrder struct {
	ref          string
	patient      uuid.UUID
	instructions []Instruction
}

func (o *testOrder) EventType() string           { return "MedicationRequest" }
func (o *testOrder) ReferenceID() string         { return o.ref }
func (o *testOrder) SubjectID() uuid.UUID        { return o.patient }
func (o *testOrder) Instructions() []Instruction { return o.instructions }

func dailyAt(start, end string, times ...string) fhirmodels.Timing {
	period := 1.0
	return fhirmodels.Timing{Repeat: &fhirmodels.TimingRepeat{
		BoundsPeriod: &fhirmodels.Period{Start: start, End: end},
		Period:       &period,
		PeriodUnit:   "d",
		TimeOfDay:    times,
	}}
}

func dailyWhen(start, end string, when ...string) fhirmodels.Timing {
	t := dailyAt(start, end)
	t.Repeat.When = when
	return t
}

func newTestService() (*Service, *mockStore, *mockPatients) {
	store := newMockStore()
	patients := newMockPatients()
	return NewService(store, patients, nil, nil), store, patients
}

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load %s: %v", name, err))
	}
	return loc
}
