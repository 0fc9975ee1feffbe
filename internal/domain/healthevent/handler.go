package healthevent

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/internal/platform/auth"
	"github.com/ehr/healthevents/pkg/fhirmodels"
	"github.com/ehr/healthevents/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	read.GET("/health-events", h.ListByReference)
	read.GET("/patients/:id/health-events", h.ListInWindow)
	read.GET("/patients/:id/health-events/by-timing", h.ListByTiming)
	read.GET("/patients/:id/timing-window", h.GetWindow)
	read.POST("/timing/$expand", h.Expand)
}

// WindowResponse is a page of events together with the window that was searched.
type WindowResponse struct {
	*pagination.Response
	Window timing.Interval `json:"window"`
}

func (h *Handler) ListByReference(c echo.Context) error {
	ref := strings.TrimSpace(c.QueryParam("reference"))
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reference is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.EventsForReference(c.Request().Context(), ref, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListInWindow(c echo.Context) error {
	patientID, at, code, err := h.windowParams(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, window, err := h.svc.EventsInWindow(c.Request().Context(), patientID, at, code, c.QueryParam("tz"), pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, WindowResponse{
		Response: pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		Window:   window,
	})
}

func (h *Handler) ListByTiming(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	code, err := timing.ParseEventTiming(c.QueryParam("timing"))
	if err != nil {
		return HTTPError(err)
	}
	date, err := timing.ParseFHIRDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.EventsForTiming(c.Request().Context(), patientID, date, code, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetWindow(c echo.Context) error {
	patientID, at, code, err := h.windowParams(c)
	if err != nil {
		return err
	}
	window, err := h.svc.ResolveQueryWindow(c.Request().Context(), patientID, at, code, c.QueryParam("tz"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, window)
}

// ExpandRequest is the body of POST /timing/$expand.
type ExpandRequest struct {
	Timing   fhirmodels.Timing `json:"timing"`
	Timezone string            `json:"timezone,omitempty"`
	Start    string            `json:"start,omitempty"`
}

type ExpandResponse struct {
	Total       int                 `json:"total"`
	Occurrences []timing.Occurrence `json:"occurrences"`
}

func (h *Handler) Expand(c echo.Context) error {
	var req ExpandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var start *time.Time
	if req.Start != "" {
		t, err := timing.ParseFHIRDate(req.Start)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start")
		}
		start = &t
	}
	occ, err := h.svc.Preview(req.Timing, req.Timezone, start)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, ExpandResponse{Total: len(occ), Occurrences: occ})
}

// windowParams reads :id, at (RFC 3339, default now) and timing (default EXACT).
func (h *Handler) windowParams(c echo.Context) (uuid.UUID, time.Time, timing.EventTiming, error) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, time.Time{}, "", echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	at := h.now()
	if v := c.QueryParam("at"); v != "" {
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return uuid.Nil, time.Time{}, "", echo.NewHTTPError(http.StatusBadRequest, "at must be an RFC 3339 instant")
		}
	}
	code := timing.Exact
	if v := c.QueryParam("timing"); v != "" {
		code, err = timing.ParseEventTiming(v)
		if err != nil {
			return uuid.Nil, time.Time{}, "", HTTPError(err)
		}
	}
	return patientID, at, code, nil
}

// HTTPError maps scheduling failures to HTTP statuses: problems with the
// timing or zone are 422, everything else is 500.
func HTTPError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	if IsClientError(err) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "scheduling failed").SetInternal(err)
}
