package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omnibothq/omnibot/internal/bot"
)

// StatusHandler reports the bots currently registered on the master.
type StatusHandler struct {
	logger *slog.Logger
	master *bot.Master
}

func NewStatusHandler(master *bot.Master, log *slog.Logger) *StatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusHandler{
		logger: log.With(slog.String("handler", "status")),
		master: master,
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
}

type botStatus struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
}

func (h *StatusHandler) Status(c echo.Context) error {
	bots := h.master.Bots()
	statuses := make([]botStatus, 0, len(bots))
	for _, b := range bots {
		statuses = append(statuses, botStatus{ID: b.ID(), Platform: b.Platform()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"bots":   statuses,
	})
}
