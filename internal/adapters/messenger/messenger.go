// Package messenger implements the Facebook Messenger transport: the
// Send API for outgoing messages and the page webhook for inbound
// updates. Messenger's wire format is the normalized format, so
// encoding and decoding are passthroughs.
package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/omnibothq/omnibot/internal/bot"
)

// PlatformName is the platform key messenger transports report.
const PlatformName = "messenger"

const (
	defaultGraphBaseURL = "https://graph.facebook.com/v2.6"

	webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB
)

// Config holds the Facebook page credentials.
type Config struct {
	// VerifyToken answers the webhook subscription handshake.
	VerifyToken string
	// PageToken authorizes Send API and profile calls.
	PageToken string
	// AppSecret signs webhook payloads; inbound requests with a bad
	// signature are rejected.
	AppSecret string
}

// Transport is the Messenger platform transport.
type Transport struct {
	logger  *slog.Logger
	cfg     Config
	client  *http.Client
	baseURL string
}

// New creates a Messenger transport from page credentials.
func New(cfg Config, log *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.VerifyToken) == "" {
		return nil, fmt.Errorf("messenger verify token is required")
	}
	if strings.TrimSpace(cfg.PageToken) == "" {
		return nil, fmt.Errorf("messenger page token is required")
	}
	if strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, fmt.Errorf("messenger app secret is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		logger:  log.With(slog.String("adapter", PlatformName)),
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultGraphBaseURL,
	}, nil
}

// Name returns the messenger platform key.
func (t *Transport) Name() string {
	return PlatformName
}

// Capabilities returns the Messenger descriptor. Messenger supports
// every normalized shape.
func (t *Transport) Capabilities() *bot.Capabilities {
	return &bot.Capabilities{
		Receives: bot.ReceiveCapabilities{
			Text: true,
			Attachment: bot.ReceiveAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
				Location: true, Fallback: true,
			},
			Echo:       true,
			Read:       true,
			Delivery:   true,
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

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type sendAPIResponse struct {
	RecipientID string      `json:"recipient_id"`
	MessageID   string      `json:"message_id"`
	Error       *graphError `json:"error"`
}

// SendNormalized posts the message to the Send API. Messenger accepts
// the normalized envelope unchanged.
func (t *Transport) SendNormalized(ctx context.Context, msg *bot.OutgoingMessage) (*bot.TransportResponse, error) {
	body, err := t.callSendAPI(ctx, msg)
	if err != nil {
		return nil, err
	}
	var parsed sendAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &bot.TransportResponse{
		Raw:         json.RawMessage(body),
		RecipientID: parsed.RecipientID,
		MessageID:   parsed.MessageID,
	}, nil
}

// SendRaw posts an arbitrary payload to the Send API.
func (t *Transport) SendRaw(ctx context.Context, raw any) (any, error) {
	body, err := t.callSendAPI(ctx, raw)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (t *Transport) callSendAPI(ctx context.Context, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode send payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", t.baseURL, url.QueryEscape(t.cfg.PageToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var parsed sendAPIResponse
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
			return nil, fmt.Errorf("messenger send failed: %s (code %d)", parsed.Error.Message, parsed.Error.Code)
		}
		return nil, fmt.Errorf("messenger send failed: status %d", resp.StatusCode)
	}
	return body, nil
}

// FormatUpdate decodes one messaging item from a webhook entry. The
// wire shape is already normalized.
func (t *Transport) FormatUpdate(raw []byte) (*bot.Update, error) {
	var update bot.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("decode messenger update: %w", err)
	}
	update.Raw = json.RawMessage(raw)
	return &update, nil
}

// GetUserInfo fetches the user's public profile from the Graph API.
func (t *Transport) GetUserInfo(ctx context.Context, userID string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/%s?access_token=%s", t.baseURL, url.PathEscape(userID), url.QueryEscape(t.cfg.PageToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read profile response: %w", err)
	}
	var profile map[string]any
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("decode profile response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("messenger profile lookup failed: status %d", resp.StatusCode)
	}
	return profile, nil
}

type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
}

// MountWebhook registers the page webhook routes: the GET subscription
// handshake and the POST update receiver.
func (t *Transport) MountWebhook(g *echo.Group, emit bot.EmitFunc) {
	g.GET("", t.handleVerify)
	g.POST("", func(c echo.Context) error {
		return t.handleUpdates(c, emit)
	})
}

func (t *Transport) handleVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	if mode == "subscribe" && token == t.cfg.VerifyToken {
		return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
	}
	t.logger.Warn("webhook verification rejected", slog.String("mode", mode))
	return echo.NewHTTPError(http.StatusForbidden, "wrong verify token")
}

func (t *Transport) handleUpdates(c echo.Context, emit bot.EmitFunc) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := t.verifySignature(c.Request().Header.Get("X-Hub-Signature-256"), payload); err != nil {
		t.logger.Warn("webhook signature rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
	}
	if envelope.Object != "page" {
		return c.NoContent(http.StatusOK)
	}

	// The response must not wait on application code, so updates are
	// emitted on a context detached from the request.
	ctx := context.WithoutCancel(c.Request().Context())
	for _, entry := range envelope.Entry {
		for _, messaging := range entry.Messaging {
			update, err := t.FormatUpdate(messaging)
			if err != nil {
				t.logger.Warn("skipping malformed messaging item", slog.Any("error", err))
				continue
			}
			emit(ctx, update)
		}
	}
	return c.NoContent(http.StatusOK)
}

// verifySignature checks the sha256 HMAC Facebook computes over the
// raw body with the app secret.
func (t *Transport) verifySignature(header string, payload []byte) error {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return fmt.Errorf("missing hub signature")
	}
	mac := hmac.New(sha256.New, []byte(t.cfg.AppSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid hub signature")
	}
	return nil
}
