package encounter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("/encounters")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/urgent", h.Urgent)
	g.GET("/recent", h.Recent)
	g.GET("/search", h.Search)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.PATCH("/:id/status", h.UpdateStatus)
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
	e, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
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
	e, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	encs, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, f.Limit, f.Offset))
}

func (h *Handler) Urgent(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	chw, err := optionalID(c.QueryParam("chw_id"))
	if err != nil {
		return err
	}
	encs, err := h.svc.Urgent(c.Request().Context(), actor, chw, pagination.FromContext(c).Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, encs)
}

func (h *Handler) Recent(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	chw, err := optionalID(c.QueryParam("chw_id"))
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(c.QueryParam("days"))
	encs, err := h.svc.Recent(c.Request().Context(), actor, chw, days, pagination.FromContext(c).Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, encs)
}

func (h *Handler) Search(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	encs, total, err := h.svc.Search(c.Request().Context(), actor, c.QueryParam("q"), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, f.Limit, f.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var upd ContentUpdate
	if err := c.Bind(&upd); err != nil {
		return apperror.Validation("invalid request body")
	}
	e, err := h.svc.UpdateContent(c.Request().Context(), actor, id, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	e, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func filterFromQuery(c echo.Context) (Filter, error) {
	pg := pagination.FromContext(c)
	f := Filter{
		Status: Status(c.QueryParam("status")),
		Type:   Type(c.QueryParam("encounter_type")),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	var err error
	if f.ChwID, err = optionalID(c.QueryParam("chw_id")); err != nil {
		return f, err
	}
	if f.PatientID, err = optionalID(c.QueryParam("patient_id")); err != nil {
		return f, err
	}
	if v := c.QueryParam("urgency_level"); v != "" {
		for _, u := range strings.Split(v, ",") {
			f.Urgencies = append(f.Urgencies, Urgency(strings.TrimSpace(u)))
		}
	}
	return f, nil
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
