package patient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	read.GET("/patients/:id/timing-profile", h.GetProfile)

	write := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	write.PUT("/patients/:id/timing-profile", h.PutProfile)
	write.DELETE("/patients/:id/timing-profile", h.DeleteProfile)
}

func (h *Handler) GetProfile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, err := h.svc.GetProfile(c.Request().Context(), id)
	if err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PutProfile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var p TimingProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.PatientID = id
	if err := h.svc.PutProfile(c.Request().Context(), &p); err != nil {
		return profileError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProfile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if err := h.svc.DeleteProfile(c.Request().Context(), id); err != nil {
		return profileError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func profileError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case timing.IsSpecError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "timing profile unavailable").SetInternal(err)
}
