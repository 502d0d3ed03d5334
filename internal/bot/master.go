package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Master owns a fleet of bots across platforms. All bots added to the
// same master share one middleware stack and one set of update and
// error subscribers, so behavior written once applies to every
// platform.
type Master struct {
	mu         sync.RWMutex
	bots       map[string]*Bot
	middleware *MiddlewareStack
	events     *events
	logger     *slog.Logger
}

// NewMaster returns an empty master.
func NewMaster(log *slog.Logger) *Master {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "master"))
	return &Master{
		bots:       make(map[string]*Bot),
		middleware: NewMiddlewareStack(log),
		events:     &events{},
		logger:     log,
	}
}

// AddBot wraps transport in a new bot and registers it. The bot id is
// generated and unique within the master.
func (m *Master) AddBot(transport Transport) (*Bot, error) {
	if err := validateTransport(transport); err != nil {
		return nil, err
	}

	b := &Bot{
		id:         uuid.NewString(),
		transport:  transport,
		middleware: m.middleware,
		events:     m.events,
		logger:     m.logger.With(slog.String("platform", transport.Name())),
	}

	m.mu.Lock()
	m.bots[b.id] = b
	m.mu.Unlock()

	m.logger.Info("bot added",
		slog.String("platform", b.Platform()),
		slog.String("bot_id", b.id))
	return b, nil
}

// RemoveBot unregisters the bot with the given id. It reports whether
// a bot was removed.
func (m *Master) RemoveBot(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bots[id]; !ok {
		return false
	}
	delete(m.bots, id)
	m.logger.Info("bot removed", slog.String("bot_id", id))
	return true
}

// GetBot returns the bot with the given id.
func (m *Master) GetBot(id string) (*Bot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bots[id]
	return b, ok
}

// Bots returns all registered bots ordered by platform, then id.
func (m *Master) Bots() []*Bot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform() != out[j].Platform() {
			return out[i].Platform() < out[j].Platform()
		}
		return out[i].id < out[j].id
	})
	return out
}

// GetBotsByPlatform returns the bots whose transport reports the given
// platform key.
func (m *Master) GetBotsByPlatform(platform string) []*Bot {
	var out []*Bot
	for _, b := range m.Bots() {
		if b.Platform() == platform {
			out = append(out, b)
		}
	}
	return out
}

// UseIncoming registers a named incoming middleware shared by all bots.
func (m *Master) UseIncoming(name string, handler IncomingHandler) error {
	return m.middleware.UseIncoming(name, handler)
}

// UseOutgoing registers a named outgoing middleware shared by all bots.
func (m *Master) UseOutgoing(name string, handler OutgoingHandler) error {
	return m.middleware.UseOutgoing(name, handler)
}

// OnUpdate subscribes fn to updates that clear incoming middleware, on
// any bot.
func (m *Master) OnUpdate(fn UpdateHandler) {
	m.events.subscribeUpdate(fn)
}

// OnError subscribes fn to inbound processing errors, on any bot.
func (m *Master) OnError(fn ErrorHandler) {
	m.events.subscribeError(fn)
}

// MountWebhooks mounts every webhook-capable transport under g, one
// subgroup per platform key.
func (m *Master) MountWebhooks(g *echo.Group) {
	for _, b := range m.Bots() {
		mounter, ok := b.transport.(WebhookMounter)
		if !ok {
			continue
		}
		mounter.MountWebhook(g.Group("/"+b.Platform()), b.EmitUpdate)
		m.logger.Info("webhook mounted", slog.String("platform", b.Platform()))
	}
}

// Start connects every connection-based transport. The first failure
// aborts startup.
func (m *Master) Start(ctx context.Context) error {
	for _, b := range m.Bots() {
		conn, ok := b.transport.(Connector)
		if !ok {
			continue
		}
		if err := conn.Connect(ctx, b.EmitUpdate); err != nil {
			return fmt.Errorf("connect %s: %w", b.Platform(), err)
		}
		m.logger.Info("transport connected", slog.String("platform", b.Platform()))
	}
	return nil
}

// Shutdown closes every connection-based transport. Close errors are
// logged, not returned, so one stuck transport cannot block the rest.
func (m *Master) Shutdown() error {
	for _, b := range m.Bots() {
		conn, ok := b.transport.(Connector)
		if !ok {
			continue
		}
		if err := conn.Close(); err != nil {
			m.logger.Warn("transport close failed",
				slog.String("platform", b.Platform()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
