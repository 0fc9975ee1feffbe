package medication

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/internal/platform/auth"
	"github.com/ehr/healthevents/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	// Read endpoints – admin, physician, nurse, pharmacist
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	readGroup.GET("/medication-requests", h.ListMedicationRequests)
	readGroup.GET("/medication-requests/:id", h.GetMedicationRequest)

	// Write endpoints – admin, physician, pharmacist
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	writeGroup.POST("/medication-requests", h.CreateMedicationRequest)
	writeGroup.PUT("/medication-requests/:id", h.UpdateMedicationRequest)
	writeGroup.DELETE("/medication-requests/:id", h.DeleteMedicationRequest)

	fhirRead := fhirGroup.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	fhirRead.GET("/MedicationRequest/:id", h.GetMedicationRequestFHIR)
}

// ScheduledResponse is a stored request together with the number of events
// its current series holds.
type ScheduledResponse struct {
	*MedicationRequest
	ScheduledEvents int `json:"scheduled_events"`
}

func scheduled(mr *MedicationRequest, batch *healthevent.EventBatch) ScheduledResponse {
	n := 0
	if batch != nil {
		n = len(batch.Events)
	}
	return ScheduledResponse{MedicationRequest: mr, ScheduledEvents: n}
}

func (h *Handler) CreateMedicationRequest(c echo.Context) error {
	var mr MedicationRequest
	if err := c.Bind(&mr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	batch, err := h.svc.CreateMedicationRequest(c.Request().Context(), &mr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, scheduled(&mr, batch))
}

func (h *Handler) GetMedicationRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	mr, err := h.svc.GetMedicationRequest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mr)
}

func (h *Handler) ListMedicationRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if v := c.QueryParam("patient"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient")
		}
		f.PatientID = &pid
	}
	f.Status = c.QueryParam("status")
	items, total, err := h.svc.ListMedicationRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateMedicationRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var mr MedicationRequest
	if err := c.Bind(&mr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mr.ID = id
	batch, err := h.svc.UpdateMedicationRequest(c.Request().Context(), &mr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, scheduled(&mr, batch))
}

func (h *Handler) DeleteMedicationRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteMedicationRequest(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetMedicationRequestFHIR(c echo.Context) error {
	mr, err := h.svc.GetMedicationRequestByFHIRID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mr.ToFHIR())
}

func httpError(err error) error {
	var se *healthevent.SchedulingError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &se):
		return healthevent.HTTPError(err)
	case healthevent.IsClientError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "medication request store failed").SetInternal(err)
}
