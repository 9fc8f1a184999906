package consultation

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/auth"
	"github.com/vivamoms/consult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/consultations")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/pool", h.Pool)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/assign", h.Assign)
	g.PATCH("/:id/start", h.Start)
	g.PATCH("/:id/complete", h.Complete)
	g.PATCH("/:id/cancel", h.Cancel)
	g.PATCH("/:id/priority", h.UpdatePriority)
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	out, err := h.svc.GetDetails(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := Filter{
		Status:   Status(c.QueryParam("status")),
		Priority: Priority(c.QueryParam("priority")),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if f.ChwID, err = optionalID(c.QueryParam("chw_id")); err != nil {
		return err
	}
	if f.DoctorID, err = optionalID(c.QueryParam("doctor_id")); err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Pool(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.PendingPool(c.Request().Context(), actor, Priority(c.QueryParam("priority")), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

// Assign defaults doctor_id to the caller, so a doctor claims a request
// with an empty body.
func (h *Handler) Assign(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var body struct {
		DoctorID uuid.UUID `json:"doctor_id"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	if body.DoctorID == uuid.Nil && actor.Role == access.RoleDoctor {
		body.DoctorID = actor.ID
	}
	out, err := h.svc.Assign(c.Request().Context(), actor, id, body.DoctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Start(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	out, err := h.svc.Start(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Complete(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var in CompleteInput
	if err := c.Bind(&in); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.Complete(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.Cancel(c.Request().Context(), actor, id, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdatePriority(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var body struct {
		Priority Priority `json:"priority"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.UpdatePriority(c.Request().Context(), actor, id, body.Priority)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid id %q", raw)
	}
	return id, nil
}

func optionalID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
