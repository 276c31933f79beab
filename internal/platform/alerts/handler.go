package alerts

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the alert feed over echo.
type Handler struct {
	center *Center
}

func NewHandler(center *Center) *Handler {
	return &Handler{center: center}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/:id/ack", h.Acknowledge)
	g.POST("/ack-all", h.AcknowledgeAll)
}

func (h *Handler) List(c echo.Context) error {
	unackedOnly := c.QueryParam("unacked") == "true"
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts": h.center.List(unackedOnly),
	})
}

func (h *Handler) Acknowledge(c echo.Context) error {
	if err := h.center.Acknowledge(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AcknowledgeAll(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"acknowledged": h.center.AcknowledgeAll(),
	})
}
