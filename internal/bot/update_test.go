package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestEmitUpdateDeliversToSubscribersInOrder(t *testing.T) {
	t.Parallel()

	m, b := newTestBot(t, newFakeTransport("fake"))
	update := textUpdate("u1", "hello")
	var order []string
	var errorEvents []error
	m.OnUpdate(func(view *BotView, got *Update) {
		order = append(order, "first")
		if got != update {
			t.Errorf("first subscriber got %+v", got)
		}
		if view.Update() != update || view.Bot() != b {
			t.Error("view not bound to the delivered update")
		}
	})
	m.OnUpdate(func(view *BotView, got *Update) {
		order = append(order, "second")
	})
	m.OnError(func(b *Bot, err error) {
		errorEvents = append(errorEvents, err)
	})

	b.EmitUpdate(context.Background(), update)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected delivery order: %v", order)
	}
	if len(errorEvents) != 0 {
		t.Fatalf("error event fired alongside update event: %v", errorEvents)
	}
}

func TestEmitUpdateDeliversMiddlewareReplacement(t *testing.T) {
	t.Parallel()

	m, b := newTestBot(t, newFakeTransport("fake"))
	replaced := textUpdate("u1", "rewritten")
	if err := m.UseIncoming("rewriter", func(ctx context.Context, view *BotView, update *Update) (*Update, error) {
		return replaced, nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var got *Update
	var gotView *BotView
	m.OnUpdate(func(view *BotView, update *Update) {
		got = update
		gotView = view
	})

	b.EmitUpdate(context.Background(), textUpdate("u1", "original"))

	if got != replaced {
		t.Fatal("subscriber did not receive the replaced update")
	}
	if gotView.Update() != replaced {
		t.Fatal("view still bound to the pre-middleware update")
	}
}

func TestEmitUpdateAnnotatesApplicationErrors(t *testing.T) {
	t.Parallel()

	m, b := newTestBot(t, newFakeTransport("fake"))
	cause := errors.New("boom")
	if err := m.UseIncoming("failing", func(ctx context.Context, view *BotView, update *Update) (*Update, error) {
		return nil, cause
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var updates int
	var gotErr error
	m.OnUpdate(func(view *BotView, update *Update) { updates++ })
	m.OnError(func(b *Bot, err error) { gotErr = err })

	b.EmitUpdate(context.Background(), textUpdate("u1", "hello"))

	if updates != 0 {
		t.Fatal("update event fired alongside error event")
	}
	if gotErr == nil {
		t.Fatal("error event did not fire")
	}
	want := `"boom". This is most probably on your end.`
	if gotErr.Error() != want {
		t.Fatalf("unexpected annotation: got %q, want %q", gotErr.Error(), want)
	}
	// The middleware tag stays reachable through the annotation.
	var mwErr *MiddlewareError
	if !errors.As(gotErr, &mwErr) {
		t.Fatalf("expected MiddlewareError in chain, got %T", gotErr)
	}
	if mwErr.Name != "failing" || mwErr.Phase != PhaseIncoming {
		t.Fatalf("unexpected tagging: %+v", mwErr)
	}
	if !errors.Is(gotErr, cause) {
		t.Fatal("cause must stay reachable through the chain")
	}
}

func TestEmitUpdateSkipsAnnotationForMiddlewareMachineryErrors(t *testing.T) {
	t.Parallel()

	m, b := newTestBot(t, newFakeTransport("fake"))
	machinery := fmt.Errorf("incoming middleware chain misconfigured")
	if err := m.UseIncoming("broken", func(ctx context.Context, view *BotView, update *Update) (*Update, error) {
		return nil, machinery
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var gotErr error
	m.OnError(func(b *Bot, err error) { gotErr = err })

	b.EmitUpdate(context.Background(), textUpdate("u1", "hello"))

	if gotErr == nil {
		t.Fatal("error event did not fire")
	}
	if gotErr.Error() != "incoming middleware chain misconfigured" {
		t.Fatalf("machinery error was annotated: %q", gotErr.Error())
	}
}

func TestEmitUpdateNilUpdate(t *testing.T) {
	t.Parallel()

	m, b := newTestBot(t, newFakeTransport("fake"))
	var updates int
	var gotErr error
	m.OnUpdate(func(view *BotView, update *Update) { updates++ })
	m.OnError(func(b *Bot, err error) { gotErr = err })

	b.EmitUpdate(context.Background(), nil)

	if updates != 0 {
		t.Fatal("update event fired for nil update")
	}
	want := `"update is required". This is most probably on your end.`
	if gotErr == nil || gotErr.Error() != want {
		t.Fatalf("unexpected error: %v", gotErr)
	}
}

func TestEmitUpdateWithoutSubscribersDoesNotPanic(t *testing.T) {
	t.Parallel()

	_, b := newTestBot(t, newFakeTransport("fake"))
	b.EmitUpdate(context.Background(), textUpdate("u1", "hello"))
	b.EmitUpdate(context.Background(), nil)
}

func TestEmitUpdateErrorEventReceivesOriginBot(t *testing.T) {
	t.Parallel()

	m, b := newTestBot(t, newFakeTransport("fake"))
	if err := m.UseIncoming("failing", func(ctx context.Context, view *BotView, update *Update) (*Update, error) {
		return nil, errors.New("boom")
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var gotBot *Bot
	m.OnError(func(b *Bot, err error) { gotBot = b })
	b.EmitUpdate(context.Background(), textUpdate("u1", "hello"))

	if gotBot != b {
		t.Fatal("error event did not carry the origin bot")
	}
}
