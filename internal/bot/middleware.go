package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// IncomingHandler transforms an inbound update before delivery. The
// view carries the bot the update arrived on, bound to that update so
// sends made from middleware inherit it. Returning a non-nil update
// replaces the accumulated one; returning nil with nil error passes it
// through unchanged; returning an error short-circuits the phase.
type IncomingHandler func(ctx context.Context, view *BotView, update *Update) (*Update, error)

// OutgoingHandler transforms an outgoing message before transport,
// under the same replace/pass-through/short-circuit contract as
// IncomingHandler. The options expose the update that triggered the
// send, when there is one, via opts.TriggerUpdate.
type OutgoingHandler func(ctx context.Context, b *Bot, msg *OutgoingMessage, opts *SendOptions) (*OutgoingMessage, error)

// IncomingMiddleware is a named incoming-phase entry.
type IncomingMiddleware struct {
	Name    string
	Handler IncomingHandler
}

// OutgoingMiddleware is a named outgoing-phase entry.
type OutgoingMiddleware struct {
	Name    string
	Handler OutgoingHandler
}

// MiddlewareStack holds the ordered incoming and outgoing chains shared
// by every bot on a master. Registration appends; names are unique per
// phase; execution walks a snapshot in registration order, strictly
// sequentially, so later middleware observes the effect of earlier
// middleware.
type MiddlewareStack struct {
	mu       sync.RWMutex
	incoming []IncomingMiddleware
	outgoing []OutgoingMiddleware
	logger   *slog.Logger
}

// NewMiddlewareStack creates an empty stack.
func NewMiddlewareStack(log *slog.Logger) *MiddlewareStack {
	if log == nil {
		log = slog.Default()
	}
	return &MiddlewareStack{
		logger: log.With(slog.String("component", "middleware")),
	}
}

// UseIncoming appends a named incoming handler.
func (s *MiddlewareStack) UseIncoming(name string, handler IncomingHandler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("middleware name is required")
	}
	if handler == nil {
		return fmt.Errorf("middleware handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mw := range s.incoming {
		if mw.Name == name {
			return fmt.Errorf("incoming middleware already registered: %s", name)
		}
	}
	s.incoming = append(s.incoming, IncomingMiddleware{Name: name, Handler: handler})
	s.logger.Debug("incoming middleware registered", slog.String("name", name))
	return nil
}

// UseOutgoing appends a named outgoing handler.
func (s *MiddlewareStack) UseOutgoing(name string, handler OutgoingHandler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("middleware name is required")
	}
	if handler == nil {
		return fmt.Errorf("middleware handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mw := range s.outgoing {
		if mw.Name == name {
			return fmt.Errorf("outgoing middleware already registered: %s", name)
		}
	}
	s.outgoing = append(s.outgoing, OutgoingMiddleware{Name: name, Handler: handler})
	s.logger.Debug("outgoing middleware registered", slog.String("name", name))
	return nil
}

func (s *MiddlewareStack) snapshotIncoming() []IncomingMiddleware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]IncomingMiddleware, len(s.incoming))
	copy(items, s.incoming)
	return items
}

func (s *MiddlewareStack) snapshotOutgoing() []OutgoingMiddleware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]OutgoingMiddleware, len(s.outgoing))
	copy(items, s.outgoing)
	return items
}

// runIncoming executes the incoming phase over the update. A handler
// failure skips the remaining handlers and is returned wrapped in a
// MiddlewareError.
func (s *MiddlewareStack) runIncoming(ctx context.Context, view *BotView, update *Update) (*Update, error) {
	for _, mw := range s.snapshotIncoming() {
		next, err := mw.Handler(ctx, view, update)
		if err != nil {
			return nil, &MiddlewareError{Phase: PhaseIncoming, Name: mw.Name, Err: err}
		}
		if next != nil {
			update = next
		}
	}
	return update, nil
}

// runOutgoing executes the outgoing phase over the message. The phase
// is bypassed entirely when opts.IgnoreMiddleware is set.
func (s *MiddlewareStack) runOutgoing(ctx context.Context, b *Bot, msg *OutgoingMessage, opts *SendOptions) (*OutgoingMessage, error) {
	if opts != nil && opts.IgnoreMiddleware {
		return msg, nil
	}
	for _, mw := range s.snapshotOutgoing() {
		next, err := mw.Handler(ctx, b, msg, opts)
		if err != nil {
			return nil, &MiddlewareError{Phase: PhaseOutgoing, Name: mw.Name, Err: err}
		}
		if next != nil {
			msg = next
		}
	}
	return msg, nil
}
