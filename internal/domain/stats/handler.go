package stats

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/stats")
	g.GET("/consultations", h.Consultations)
	g.GET("/encounters", h.Encounters)
	g.GET("/messages", h.Messages)
}

func scopeFrom(c echo.Context) (Scope, error) {
	var sc Scope
	var err error
	if sc.ChwID, err = optionalID(c.QueryParam("chw_id")); err != nil {
		return sc, err
	}
	if sc.DoctorID, err = optionalID(c.QueryParam("doctor_id")); err != nil {
		return sc, err
	}
	if raw := c.QueryParam("days"); raw != "" {
		if sc.Days, err = strconv.Atoi(raw); err != nil || sc.Days < 0 {
			return sc, apperror.Validation("invalid days %q", raw)
		}
	}
	return sc, nil
}

func (h *Handler) Consultations(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	sc, err := scopeFrom(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Consultations(c.Request().Context(), actor, sc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Encounters(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	sc, err := scopeFrom(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Encounters(c.Request().Context(), actor, sc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Messages(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	consultationID, err := optionalID(c.QueryParam("consultation_id"))
	if err != nil {
		return err
	}
	sc, err := scopeFrom(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Messages(c.Request().Context(), actor, consultationID, sc.Days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func optionalID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.Validation("invalid id %q", raw)
	}
	return &id, nil
}
