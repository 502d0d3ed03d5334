// Package socket implements a websocket transport for browser and
// custom clients. The server assigns each connection an id, announces
// it in a handshake frame, and addresses outgoing messages by that id.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/omnibothq/omnibot/internal/bot"
)

// PlatformName is the platform key socket transports report.
const PlatformName = "socket"

// Frame types the server writes.
const (
	frameTypeConnection   = "connection"
	frameTypeMessage      = "message"
	frameTypeSenderAction = "sender_action"
)

// outboundFrame is the JSON envelope written to clients.
type outboundFrame struct {
	Type         string           `json:"type"`
	ClientID     string           `json:"client_id,omitempty"`
	MessageID    string           `json:"message_id,omitempty"`
	Message      *bot.MessageBody `json:"message,omitempty"`
	SenderAction bot.SenderAction `json:"sender_action,omitempty"`
}

// inboundFrame is the JSON payload clients send. The server stamps the
// sender, the message id and the timestamp itself.
type inboundFrame struct {
	Text        string                 `json:"text,omitempty"`
	Attachments []bot.Attachment       `json:"attachments,omitempty"`
	QuickReply  *bot.QuickReplyPayload `json:"quick_reply,omitempty"`
	Postback    *bot.Postback          `json:"postback,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue hands a frame to the write pump without blocking the caller.
func (c *client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("socket client %s is gone", c.id)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("socket client %s is not keeping up", c.id)
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump owns all writes on the connection.
func (c *client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}

// Transport is the websocket platform transport.
type Transport struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a websocket transport. It needs no credentials; access
// control belongs to whatever fronts the HTTP server.
func New(log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		logger: log.With(slog.String("adapter", PlatformName)),
		upgrader: websocket.Upgrader{
			// Browser clients connect from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Name returns the socket platform key.
func (t *Transport) Name() string {
	return PlatformName
}

// Capabilities returns the socket descriptor. The wire format is our
// own, so nearly everything passes through.
func (t *Transport) Capabilities() *bot.Capabilities {
	return &bot.Capabilities{
		Receives: bot.ReceiveCapabilities{
			Text: true,
			Attachment: bot.ReceiveAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
				Location: true, Fallback: true,
			},
			Postback:   true,
			QuickReply: true,
		},
		Sends: bot.SendCapabilities{
			Text:       true,
			QuickReply: true,
			Attachment: bot.SendAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
			},
			SenderAction: bot.SenderActionCapabilities{
				TypingOn: true, TypingOff: true, MarkSeen: true,
			},
		},
	}
}

// ClientIDs returns the ids of the connected clients, sorted.
func (t *Transport) ClientIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Transport) lookup(id string) (*client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cl, ok := t.clients[id]
	if !ok {
		return nil, fmt.Errorf("socket client %s is not connected", id)
	}
	return cl, nil
}

func (t *Transport) addClient(cl *client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[cl.id] = cl
}

func (t *Transport) removeClient(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

// SendNormalized writes the message to the recipient client as one
// JSON frame. The message id is assigned by the server.
func (t *Transport) SendNormalized(ctx context.Context, msg *bot.OutgoingMessage) (*bot.TransportResponse, error) {
	cl, err := t.lookup(msg.RecipientID())
	if err != nil {
		return nil, err
	}

	frame := outboundFrame{Type: frameTypeMessage, MessageID: uuid.NewString()}
	if msg.SenderAction != "" {
		frame.Type = frameTypeSenderAction
		frame.MessageID = ""
		frame.SenderAction = msg.SenderAction
	} else {
		frame.Message = msg.Message
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode socket frame: %w", err)
	}
	if err := cl.enqueue(data); err != nil {
		return nil, err
	}
	return &bot.TransportResponse{
		Raw:         frame,
		RecipientID: cl.id,
		MessageID:   frame.MessageID,
	}, nil
}

// RawMessage is the payload SendRaw accepts. An empty ClientID
// broadcasts to every connected client.
type RawMessage struct {
	ClientID string
	Data     any
}

// SendRaw writes an arbitrary JSON payload to one client or to all of
// them.
func (t *Transport) SendRaw(ctx context.Context, raw any) (any, error) {
	payload, ok := raw.(RawMessage)
	if !ok {
		return nil, fmt.Errorf("socket raw payload must be a socket.RawMessage, got %T", raw)
	}
	data, err := json.Marshal(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("encode socket frame: %w", err)
	}

	if payload.ClientID != "" {
		cl, err := t.lookup(payload.ClientID)
		if err != nil {
			return nil, err
		}
		if err := cl.enqueue(data); err != nil {
			return nil, err
		}
		return map[string]any{"delivered": 1}, nil
	}

	t.mu.RLock()
	targets := make([]*client, 0, len(t.clients))
	for _, cl := range t.clients {
		targets = append(targets, cl)
	}
	t.mu.RUnlock()

	delivered := 0
	for _, cl := range targets {
		if err := cl.enqueue(data); err != nil {
			t.logger.Warn("broadcast skipped client", slog.String("client_id", cl.id), slog.Any("error", err))
			continue
		}
		delivered++
	}
	return map[string]any{"delivered": delivered}, nil
}

// FormatUpdate decodes a client frame. The sender is stamped by the
// connection handler, never trusted from the payload.
func (t *Transport) FormatUpdate(raw []byte) (*bot.Update, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode socket frame: %w", err)
	}

	update := &bot.Update{
		Timestamp: time.Now().UnixMilli(),
		Raw:       json.RawMessage(raw),
	}
	switch {
	case frame.Postback != nil:
		update.Postback = frame.Postback
	case frame.Text != "" || len(frame.Attachments) > 0 || frame.QuickReply != nil:
		update.Message = &bot.IncomingMessage{
			MID:         uuid.NewString(),
			Text:        frame.Text,
			Attachments: frame.Attachments,
			QuickReply:  frame.QuickReply,
		}
	default:
		return nil, fmt.Errorf("socket frame has no message content")
	}
	return update, nil
}

// MountWebhook registers the websocket upgrade endpoint.
func (t *Transport) MountWebhook(g *echo.Group, emit bot.EmitFunc) {
	g.GET("", func(c echo.Context) error {
		return t.handleConnection(c, emit)
	})
}

// handleConnection upgrades the request and runs the read loop for the
// lifetime of the connection.
func (t *Transport) handleConnection(c echo.Context, emit bot.EmitFunc) error {
	conn, err := t.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}

	cl := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 32)}
	t.addClient(cl)
	go cl.writePump()
	t.logger.Info("client connected", slog.String("client_id", cl.id))

	if data, err := json.Marshal(outboundFrame{Type: frameTypeConnection, ClientID: cl.id}); err == nil {
		_ = cl.enqueue(data)
	}

	// Connections outlive the upgrade request.
	ctx := context.WithoutCancel(c.Request().Context())
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		update, err := t.FormatUpdate(payload)
		if err != nil {
			t.logger.Warn("skipping malformed frame",
				slog.String("client_id", cl.id),
				slog.Any("error", err))
			continue
		}
		update.Sender = &bot.Party{ID: cl.id}
		emit(ctx, update)
	}

	t.removeClient(cl.id)
	cl.shutdown()
	t.logger.Info("client disconnected", slog.String("client_id", cl.id))
	return nil
}
