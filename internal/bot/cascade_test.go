package bot

import (
	"context"
	"errors"
	"testing"
)

func TestSendCascadeToSendsInOrder(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport("fake")
	_, b := newTestBot(t, transport)
	messages := []CascadeMessage{
		{Text: "first"},
		{Text: "second"},
		{Text: "third"},
	}

	results, err := b.SendCascadeTo(context.Background(), messages, "u1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if transport.sent[i].Message.Text != want {
			t.Fatalf("send %d: got %q, want %q", i, transport.sent[i].Message.Text, want)
		}
		if transport.sent[i].RecipientID() != "u1" {
			t.Fatalf("send %d went to %q", i, transport.sent[i].RecipientID())
		}
	}
	// One result per step, in step order.
	if results[0].MessageID != "mid.1" || results[2].MessageID != "mid.3" {
		t.Fatalf("results out of order: %+v", results)
	}
}

func TestSendCascadeToAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport("fake")
	transport.failOn = 2
	_, b := newTestBot(t, transport)
	messages := []CascadeMessage{
		{Text: "first"},
		{Text: "second"},
		{Text: "third"},
	}

	results, err := b.SendCascadeTo(context.Background(), messages, "u1", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if results != nil {
		t.Fatalf("partial results must be discarded, got %+v", results)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("steps after the failure ran: %d sends", len(transport.sent))
	}
}

func TestSendCascadeToOnComplete(t *testing.T) {
	t.Parallel()

	t.Run("fires once across step kinds", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport("fake")
		_, b := newTestBot(t, transport)
		var cbResult *SendResult
		var cbErr error
		calls := 0
		opts := &SendOptions{OnComplete: func(result *SendResult, err error) {
			calls++
			cbResult, cbErr = result, err
		}}
		messages := []CascadeMessage{
			{Text: "first"},
			{Raw: map[string]any{"p": 1}},
			{IsTyping: true},
		}

		results, err := b.SendCascadeTo(context.Background(), messages, "u1", opts)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("unexpected result count: %d", len(results))
		}
		if calls != 1 {
			t.Fatalf("callback ran %d times, want 1", calls)
		}
		// Step results come back only through the return value.
		if cbResult != nil || cbErr != nil {
			t.Fatalf("unexpected callback outcome: %+v, %v", cbResult, cbErr)
		}
	})

	t.Run("abort carries the cascade error", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport("fake")
		transport.failOn = 2
		_, b := newTestBot(t, transport)
		var cbResult *SendResult
		var cbErr error
		calls := 0
		opts := &SendOptions{OnComplete: func(result *SendResult, err error) {
			calls++
			cbResult, cbErr = result, err
		}}
		messages := []CascadeMessage{
			{Text: "first"},
			{Text: "second"},
			{Text: "third"},
		}

		results, err := b.SendCascadeTo(context.Background(), messages, "u1", opts)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if results != nil {
			t.Fatalf("partial results must be discarded, got %+v", results)
		}
		if calls != 1 {
			t.Fatalf("callback ran %d times, want 1", calls)
		}
		if cbErr != err {
			t.Fatal("callback error differs from returned error")
		}
		// Discarded partial results must not leak through the callback.
		if cbResult != nil {
			t.Fatalf("callback observed a result from an aborted cascade: %+v", cbResult)
		}
	})
}

func TestSendCascadeToRejectsEmptyStep(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport("fake")
	_, b := newTestBot(t, transport)
	_, err := b.SendCascadeTo(context.Background(), []CascadeMessage{{}}, "u1", nil)
	if err == nil || err.Error() != "No valid message options specified" {
		t.Fatalf("unexpected error: %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(transport.sent) != 0 {
		t.Fatal("transport was reached")
	}
}

func TestSendCascadeToRejectsButtonsWithTextAndAttachment(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport("fake")
	_, b := newTestBot(t, transport)
	step := CascadeMessage{
		Buttons:    []string{"A"},
		Text:       "caption",
		Attachment: &Attachment{Type: AttachmentTypeImage, Payload: AttachmentPayload{URL: "https://example.com/img.png"}},
	}

	_, err := b.SendCascadeTo(context.Background(), []CascadeMessage{step}, "u1", nil)
	if err == nil || err.Error() != "use either one of text or attachment with buttons" {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatal("transport was reached")
	}
}

func TestSendCascadeToButtonCaptions(t *testing.T) {
	t.Parallel()

	image := &Attachment{Type: AttachmentTypeImage, Payload: AttachmentPayload{URL: "https://example.com/img.png"}}
	tests := []struct {
		name  string
		step  CascadeMessage
		check func(t *testing.T, sent *OutgoingMessage)
	}{
		{
			name: "text caption",
			step: CascadeMessage{Buttons: []string{"A"}, Text: "pick"},
			check: func(t *testing.T, sent *OutgoingMessage) {
				if sent.Message.Text != "pick" {
					t.Fatalf("unexpected caption: %q", sent.Message.Text)
				}
			},
		},
		{
			name: "attachment caption",
			step: CascadeMessage{Buttons: []string{"A"}, Attachment: image},
			check: func(t *testing.T, sent *OutgoingMessage) {
				if sent.Message.Attachment != image {
					t.Fatalf("unexpected attachment: %+v", sent.Message.Attachment)
				}
			},
		},
		{
			name: "no caption falls back",
			step: CascadeMessage{Buttons: []string{"A"}},
			check: func(t *testing.T, sent *OutgoingMessage) {
				if sent.Message.Text != "Please select one of:" {
					t.Fatalf("unexpected caption: %q", sent.Message.Text)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport := newFakeTransport("fake")
			_, b := newTestBot(t, transport)
			if _, err := b.SendCascadeTo(context.Background(), []CascadeMessage{tt.step}, "u1", nil); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			sent := transport.sent[0]
			if len(sent.Message.QuickReplies) != 1 {
				t.Fatal("buttons missing from sent message")
			}
			tt.check(t, sent)
		})
	}
}

func TestSendCascadeToFieldPrecedence(t *testing.T) {
	t.Parallel()

	t.Run("raw wins over everything", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport("fake")
		_, b := newTestBot(t, transport)
		step := CascadeMessage{Raw: map[string]any{"p": 1}, Text: "ignored", IsTyping: true}

		results, err := b.SendCascadeTo(context.Background(), []CascadeMessage{step}, "u1", nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(transport.raws) != 1 || len(transport.sent) != 0 {
			t.Fatalf("raw step must bypass the pipeline: raws=%d sent=%d", len(transport.raws), len(transport.sent))
		}
		if results[0].Raw == nil || results[0].MessageID != "" {
			t.Fatalf("unexpected raw result: %+v", results[0])
		}
	})

	t.Run("message wins over text", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport("fake")
		_, b := newTestBot(t, transport)
		prebuilt := NewOutgoingMessageFor("other.recipient").AddText("prebuilt")
		step := CascadeMessage{Message: prebuilt, Text: "ignored"}

		if _, err := b.SendCascadeTo(context.Background(), []CascadeMessage{step}, "u1", nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		// Prebuilt messages keep their own recipient.
		if transport.sent[0] != prebuilt || transport.sent[0].RecipientID() != "other.recipient" {
			t.Fatalf("unexpected sent message: %+v", transport.sent[0])
		}
	})

	t.Run("buttons win over attachment and text", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport("fake")
		_, b := newTestBot(t, transport)
		step := CascadeMessage{Buttons: []string{"A"}, Text: "caption"}

		if _, err := b.SendCascadeTo(context.Background(), []CascadeMessage{step}, "u1", nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(transport.sent[0].Message.QuickReplies) != 1 {
			t.Fatal("buttons step did not produce quick replies")
		}
	})
}

func TestSendCascadeToTypingStep(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport("fake")
	_, b := newTestBot(t, transport)
	results, err := b.SendCascadeTo(context.Background(), []CascadeMessage{{IsTyping: true}}, "u1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if transport.sent[0].SenderAction != SenderActionTypingOn {
		t.Fatalf("unexpected envelope: %+v", transport.sent[0])
	}
	if results[0].RecipientID != "u1" || results[0].MessageID != "" {
		t.Fatalf("typing result not reduced: %+v", results[0])
	}
}

func TestSendTextCascadeTo(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport("fake")
	_, b := newTestBot(t, transport)
	results, err := b.SendTextCascadeTo(context.Background(), []string{"one", "two"}, "u1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	if transport.sent[0].Message.Text != "one" || transport.sent[1].Message.Text != "two" {
		t.Fatalf("texts out of order: %q, %q", transport.sent[0].Message.Text, transport.sent[1].Message.Text)
	}
}
