package events

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes webhook endpoint management over echo.
type Handler struct {
	notifier *Notifier
}

func NewHandler(notifier *Notifier) *Handler {
	return &Handler{notifier: notifier}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Register)
	g.GET("", h.List)
	g.DELETE("/:id", h.Remove)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/deliveries/:id/retry", h.Retry)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.notifier.Register(req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"endpoints": h.notifier.Endpoints(),
	})
}

func (h *Handler) Remove(c echo.Context) error {
	if err := h.notifier.Remove(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Deliveries(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"deliveries": h.notifier.Deliveries(c.Param("id")),
	})
}

func (h *Handler) Retry(c echo.Context) error {
	d, err := h.notifier.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
