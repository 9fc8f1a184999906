package identity

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
	api.GET("/users/me", h.Me)
	api.PATCH("/users/me", h.UpdateMe)
	api.GET("/doctors", h.directory(access.RoleDoctor))
	api.GET("/chws", h.directory(access.RoleCHW))

	admin := api.Group("/users", auth.RequireRole(access.RoleAdmin))
	admin.POST("", h.Create)
	admin.GET("", h.List)
	admin.PATCH("/:id/role", h.SetRole)
	admin.PATCH("/:id/active", h.SetActive)

	api.GET("/users/:id", h.Get)
}

func (h *Handler) Me(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var upd ProfileUpdate
	if err := c.Bind(&upd); err != nil {
		return apperror.Validation("invalid request body")
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), actor, actor.ID, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
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
	u, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{Role: access.Role(c.QueryParam("role")), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("active"); v != "" {
		f.ActiveOnly, _ = strconv.ParseBool(v)
	}
	users, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) directory(role access.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		pg := pagination.FromContext(c)
		users, total, err := h.svc.Directory(c.Request().Context(), actor, role, pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
	}
}

func (h *Handler) SetRole(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Role access.Role `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	u, err := h.svc.SetRole(c.Request().Context(), actor, id, body.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetActive(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Active *bool `json:"active"`
	}
	if err := c.Bind(&body); err != nil || body.Active == nil {
		return apperror.Validation("active is required")
	}
	u, err := h.svc.SetActive(c.Request().Context(), actor, id, *body.Active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid id")
	}
	return id, nil
}
