package handlers

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/omnibothq/omnibot/internal/bot"
)

// DefaultWebhookBasePath is where platform webhooks mount when the
// configuration names no other prefix.
const DefaultWebhookBasePath = "/webhooks"

// WebhooksHandler mounts every webhook-capable bot under one base
// path. Routes end up at <base>/<platform>.
type WebhooksHandler struct {
	logger   *slog.Logger
	master   *bot.Master
	basePath string
}

func NewWebhooksHandler(master *bot.Master, basePath string, log *slog.Logger) *WebhooksHandler {
	if log == nil {
		log = slog.Default()
	}
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		basePath = DefaultWebhookBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return &WebhooksHandler{
		logger:   log.With(slog.String("handler", "webhooks")),
		master:   master,
		basePath: strings.TrimRight(basePath, "/"),
	}
}

func (h *WebhooksHandler) Register(e *echo.Echo) {
	h.master.MountWebhooks(e.Group(h.basePath))
	h.logger.Info("webhooks registered", slog.String("base_path", h.basePath))
}
