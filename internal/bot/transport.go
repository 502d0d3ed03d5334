package bot

import (
	"context"

	"github.com/labstack/echo/v4"
)

// EmitFunc delivers a decoded update into a bot's inbound pipeline.
// Transports call it once per normalized update.
type EmitFunc func(ctx context.Context, update *Update)

// Transport is the platform-specific half of a bot. Implementations
// encode normalized messages for one platform and decode its raw
// payloads into updates; the shared pipeline handles everything else.
type Transport interface {
	// Name returns the platform key, "telegram" for example.
	Name() string
	// Capabilities returns the transport's descriptor. Nil places no
	// restrictions on outgoing messages.
	Capabilities() *Capabilities
	// SendRaw delivers a platform payload without any normalization
	// or middleware.
	SendRaw(ctx context.Context, raw any) (any, error)
	// SendNormalized delivers an outgoing message that has cleared
	// validation and outgoing middleware.
	SendNormalized(ctx context.Context, msg *OutgoingMessage) (*TransportResponse, error)
	// FormatUpdate decodes one raw platform payload into an Update.
	FormatUpdate(raw []byte) (*Update, error)
}

// UserInfoProvider is implemented by transports that can look up
// profile data for a platform user. Bots whose transport lacks it
// resolve user info to an empty result.
type UserInfoProvider interface {
	GetUserInfo(ctx context.Context, userID string) (map[string]any, error)
}

// WebhookMounter is implemented by transports that receive updates
// over an HTTP webhook. MountWebhook is invoked once at setup with the
// route group reserved for the transport.
type WebhookMounter interface {
	MountWebhook(g *echo.Group, emit EmitFunc)
}

// Connector is implemented by transports that receive updates over a
// long-lived connection, long polling or a gateway socket. Connect
// must not block beyond connection setup.
type Connector interface {
	Connect(ctx context.Context, emit EmitFunc) error
	Close() error
}
