package messaging

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
	g := api.Group("/messages")
	g.POST("", h.Send)
	g.POST("/system", h.SendSystem)
	g.GET("/consultation/:consultationId", h.ListForConsultation)
	g.GET("/conversation/:userId", h.Conversation)
	g.GET("/unread", h.ListUnread)
	g.GET("/unread-count", h.UnreadCount)
	g.GET("/search", h.Search)
	g.GET("/stats", h.Stats)
	g.PATCH("/read", h.MarkManyRead)
	g.PATCH("/:id/read", h.MarkRead)
	g.PATCH("/:id", h.Edit)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) Send(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var in SendInput
	if err := c.Bind(&in); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.Send(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) SendSystem(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var body struct {
		ConsultationID uuid.UUID `json:"consultation_id"`
		RecipientID    uuid.UUID `json:"recipient_id"`
		Content        string    `json:"content"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.SendSystem(c.Request().Context(), actor, body.ConsultationID, body.RecipientID, body.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListForConsultation(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("consultationId"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForConsultation(c.Request().Context(), actor, id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Conversation(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	other, err := parseID(c.Param("userId"))
	if err != nil {
		return err
	}
	consultationID, err := optionalID(c.QueryParam("consultation_id"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Conversation(c.Request().Context(), actor, other, consultationID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListUnread(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	consultationID, err := optionalID(c.QueryParam("consultation_id"))
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.ListUnread(c.Request().Context(), actor, consultationID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	consultationID, err := optionalID(c.QueryParam("consultation_id"))
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), actor, consultationID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"unread_count": n})
}

func (h *Handler) Search(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	consultationID, err := optionalID(c.QueryParam("consultation_id"))
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.Search(c.Request().Context(), actor, c.QueryParam("q"), consultationID, Type(c.QueryParam("message_type")), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) Stats(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	consultationID, err := optionalID(c.QueryParam("consultation_id"))
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(c.QueryParam("days"))
	st, err := h.svc.Stats(c.Request().Context(), actor, consultationID, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) MarkManyRead(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var body struct {
		MessageIDs []uuid.UUID `json:"message_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	n, err := h.svc.MarkManyRead(c.Request().Context(), actor, body.MessageIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	out, err := h.svc.MarkRead(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Edit(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid request body")
	}
	out, err := h.svc.Edit(c.Request().Context(), actor, id, body.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Delete(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	out, err := h.svc.Delete(c.Request().Context(), actor, id)
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
