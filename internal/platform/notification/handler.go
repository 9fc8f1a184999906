package notification

import (
	"net/http"
	"strconv"

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
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.PATCH("/read-all", h.MarkAllRead)
	g.PATCH("/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	items, total, err := h.svc.List(c.Request().Context(), actor, unread, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid id")
	}
	if err := h.svc.MarkRead(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}
