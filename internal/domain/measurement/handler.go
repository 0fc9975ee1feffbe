package measurement

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
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	readGroup.GET("/measurement-orders", h.ListOrders)
	readGroup.GET("/measurement-orders/:id", h.GetOrder)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	writeGroup.POST("/measurement-orders", h.CreateOrder)
	writeGroup.PUT("/measurement-orders/:id", h.UpdateOrder)
	writeGroup.DELETE("/measurement-orders/:id", h.DeleteOrder)

	fhirRead := fhirGroup.Group("", auth.RequireRole("admin", "physician", "nurse"))
	fhirRead.GET("/ServiceRequest/:id", h.GetOrderFHIR)
}

type ScheduledResponse struct {
	*MeasurementOrder
	ScheduledEvents int `json:"scheduled_events"`
}

func scheduled(o *MeasurementOrder, batch *healthevent.EventBatch) ScheduledResponse {
	resp := ScheduledResponse{MeasurementOrder: o}
	if batch != nil {
		resp.ScheduledEvents = len(batch.Events)
	}
	return resp
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var o MeasurementOrder
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	batch, err := h.svc.CreateOrder(c.Request().Context(), &o)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, scheduled(&o, batch))
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Status: c.QueryParam("status"), Code: c.QueryParam("code")}
	if v := c.QueryParam("patient"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient")
		}
		f.PatientID = &pid
	}
	items, total, err := h.svc.ListOrders(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var o MeasurementOrder
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.ID = id
	batch, err := h.svc.UpdateOrder(c.Request().Context(), &o)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, scheduled(&o, batch))
}

func (h *Handler) DeleteOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteOrder(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetOrderFHIR(c echo.Context) error {
	o, err := h.svc.GetOrderByFHIRID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o.ToFHIR())
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case healthevent.IsClientError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "measurement order store failed").SetInternal(err)
}
