package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// UpdateHandler receives updates that cleared incoming middleware. The
// view is bound to the delivered update, so replies sent through it
// carry the update to outgoing middleware.
type UpdateHandler func(view *BotView, update *Update)

// ErrorHandler receives inbound pipeline failures.
type ErrorHandler func(b *Bot, err error)

// events fans inbound outcomes out to subscribers, synchronously and
// in subscription order. Exactly one of update or error is delivered
// per inbound update.
type events struct {
	mu       sync.RWMutex
	onUpdate []UpdateHandler
	onError  []ErrorHandler
}

func (e *events) subscribeUpdate(handler UpdateHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUpdate = append(e.onUpdate, handler)
}

func (e *events) subscribeError(handler ErrorHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = append(e.onError, handler)
}

func (e *events) emitUpdate(view *BotView, update *Update) {
	e.mu.RLock()
	handlers := make([]UpdateHandler, len(e.onUpdate))
	copy(handlers, e.onUpdate)
	e.mu.RUnlock()
	for _, handler := range handlers {
		handler(view, update)
	}
}

func (e *events) emitError(b *Bot, err error) {
	e.mu.RLock()
	handlers := make([]ErrorHandler, len(e.onError))
	copy(handlers, e.onError)
	e.mu.RUnlock()
	for _, handler := range handlers {
		handler(b, err)
	}
}

// EmitUpdate runs an inbound update through incoming middleware and
// delivers it to update subscribers. A middleware failure is delivered
// to error subscribers instead; the failure never reaches the
// transport caller, so one bad update cannot stall the inbound flow.
func (b *Bot) EmitUpdate(ctx context.Context, update *Update) {
	view := b.PatchedWithUpdate(update)
	if update == nil {
		b.events.emitError(b, annotateInboundError(newValidationError("update is required")))
		return
	}
	processed, err := b.middleware.runIncoming(ctx, view, update)
	if err != nil {
		b.logger.Warn("incoming update dropped",
			slog.String("sender_id", update.SenderID()),
			slog.Any("error", err))
		b.events.emitError(b, annotateInboundError(err))
		return
	}
	// Middleware may have replaced the update; rebind the view so
	// sends made by subscribers carry the update they were handed.
	view.update = processed
	b.events.emitUpdate(view, processed)
}

// annotateInboundError marks failures that did not originate inside
// the incoming middleware machinery as most likely caused by
// application code.
func annotateInboundError(err error) error {
	if strings.Contains(err.Error(), "incoming middleware") {
		return err
	}
	return fmt.Errorf("\"%w\". This is most probably on your end.", err)
}
