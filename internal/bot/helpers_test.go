package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

// fakeTransport records what reaches the platform boundary and plays
// back canned responses.
type fakeTransport struct {
	name string
	caps *Capabilities
	err  error
	// failOn makes the n-th normalized send fail, 1-based. Zero never
	// fails.
	failOn int

	sent []*OutgoingMessage
	raws []any
}

func (f *fakeTransport) Name() string {
	return f.name
}

func (f *fakeTransport) Capabilities() *Capabilities {
	return f.caps
}

func (f *fakeTransport) SendRaw(ctx context.Context, raw any) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.raws = append(f.raws, raw)
	return raw, nil
}

func (f *fakeTransport) SendNormalized(ctx context.Context, msg *OutgoingMessage) (*TransportResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.failOn > 0 && len(f.sent)+1 == f.failOn {
		return nil, fmt.Errorf("send %d failed", f.failOn)
	}
	f.sent = append(f.sent, msg)
	return &TransportResponse{
		Raw:         map[string]any{"ok": true},
		RecipientID: msg.RecipientID(),
		MessageID:   fmt.Sprintf("mid.%d", len(f.sent)),
	}, nil
}

func (f *fakeTransport) FormatUpdate(raw []byte) (*Update, error) {
	var update Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, err
	}
	update.Raw = raw
	return &update, nil
}

// allCapabilities declares every send and receive shape.
func allCapabilities() *Capabilities {
	return &Capabilities{
		Receives: ReceiveCapabilities{
			Text: true,
			Attachment: ReceiveAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
				Location: true, Fallback: true,
			},
			Echo:       true,
			Read:       true,
			Delivery:   true,
			Postback:   true,
			QuickReply: true,
		},
		Sends: SendCapabilities{
			Text:       true,
			QuickReply: true,
			Attachment: SendAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
			},
			SenderAction: SenderActionCapabilities{
				TypingOn: true, TypingOff: true, MarkSeen: true,
			},
		},
	}
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, caps: allCapabilities()}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMaster(t *testing.T) *Master {
	t.Helper()
	return NewMaster(testLogger())
}

func newTestBot(t *testing.T, transport Transport) (*Master, *Bot) {
	t.Helper()
	m := newTestMaster(t)
	b, err := m.AddBot(transport)
	if err != nil {
		t.Fatalf("add bot failed: %v", err)
	}
	return m, b
}

func textUpdate(senderID, text string) *Update {
	return &Update{
		Sender:    &Party{ID: senderID},
		Recipient: &Party{ID: "page.1"},
		Timestamp: 1458692752478,
		Message:   &IncomingMessage{MID: "mid.in.1", Text: text},
	}
}
