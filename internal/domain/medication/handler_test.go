package medication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/internal/domain/timing"
)

func newTestHandler() (*Handler, *Service, *fakeScheduler, *echo.Echo) {
	svc, _, sched := newTestService()
	return NewHandler(svc), svc, sched, echo.New()
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

const createBody = `{
	"patient_id": "%s",
	"medication_code": "197361",
	"dosage_instructions": [{"text": "1 tab", "timing": {"repeat": {"boundsPeriod": {"start": "2024-01-01", "end": "2024-01-03"}, "timeOfDay": ["09:00"]}}}]
}`

func TestHandler_CreateMedicationRequest(t *testing.T) {
	h, _, sched, e := newTestHandler()
	body := strings.Replace(createBody, "%s", uuid.NewString(), 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/medication-requests", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateMedicationRequest(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		FHIRID          string `json:"fhir_id"`
		Status          string `json:"status"`
		ScheduledEvents int    `json:"scheduled_events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ScheduledEvents != 2 || resp.Status != "active" {
		t.Errorf("unexpected response %+v", resp)
	}
	if n, _ := sched.size(EventType + "/" + resp.FHIRID); n != 2 {
		t.Errorf("expected series of 2, got %d", n)
	}
}

func TestHandler_CreateMedicationRequest_Rejections(t *testing.T) {
	h, _, _, e := newTestHandler()
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing patient", `{"medication_code":"1"}`, http.StatusBadRequest},
		{"weekly cadence", `{"patient_id":"` + uuid.NewString() + `","medication_code":"1","dosage_instructions":[{"timing":{"repeat":{"boundsDuration":{"value":2,"code":"wk"},"period":1,"periodUnit":"wk","timeOfDay":["08:00"]}}}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			err := h.CreateMedicationRequest(e.NewContext(req, httptest.NewRecorder()))
			if code := httpCode(t, err); code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, code)
			}
		})
	}
}

func TestHandler_GetMedicationRequest(t *testing.T) {
	h, svc, _, e := newTestHandler()
	mr := newRequest()
	if _, err := svc.CreateMedicationRequest(context.Background(), mr); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(mr.ID.String())
	if err := h.GetMedicationRequest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if code := httpCode(t, h.GetMedicationRequest(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.GetMedicationRequest(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetMedicationRequestFHIR(t *testing.T) {
	h, svc, _, e := newTestHandler()
	mr := newRequest()
	mr.FHIRID = "amlodipine-1"
	if _, err := svc.CreateMedicationRequest(context.Background(), mr); err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/fhir/MedicationRequest/amlodipine-1", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("amlodipine-1")
	if err := h.GetMedicationRequestFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"resourceType":"MedicationRequest"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListMedicationRequests(t *testing.T) {
	h, svc, _, e := newTestHandler()
	mr := newRequest()
	if _, err := svc.CreateMedicationRequest(context.Background(), mr); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateMedicationRequest(context.Background(), newRequest()); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?patient="+mr.PatientID.String(), nil)
	rec := httptest.NewRecorder()
	if err := h.ListMedicationRequests(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one request for the patient, got %s", rec.Body.String())
	}
}

func TestHandler_DeleteMedicationRequest(t *testing.T) {
	h, svc, sched, e := newTestHandler()
	mr := newRequest()
	if _, err := svc.CreateMedicationRequest(context.Background(), mr); err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(mr.ID.String())
	if err := h.DeleteMedicationRequest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, ok := sched.size(mr.ReferenceID()); ok {
		t.Error("expected series to be removed")
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"invalid", ErrInvalid, http.StatusBadRequest},
		{"timing", &healthevent.SchedulingError{Op: "schedule", Err: timing.ErrUnsupportedSymbolicCode}, http.StatusUnprocessableEntity},
		{"store", &healthevent.SchedulingError{Op: "schedule", Err: healthevent.ErrStoreWrite}, http.StatusInternalServerError},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := httpCode(t, httpError(tt.err)); code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, code)
			}
		})
	}
}
