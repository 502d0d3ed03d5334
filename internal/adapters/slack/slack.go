// Package slack implements the Slack transport: the Web API for sends
// and the Events API webhook for inbound messages. Quick replies are
// rendered as interactive button blocks.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/omnibothq/omnibot/internal/bot"
)

// PlatformName is the platform key slack transports report.
const PlatformName = "slack"

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// Config holds the Slack app credentials.
type Config struct {
	// BotToken authorizes Web API calls.
	BotToken string
	// SigningSecret verifies Events API request signatures.
	SigningSecret string
}

// Transport is the Slack platform transport.
type Transport struct {
	logger *slog.Logger
	cfg    Config
	client *slack.Client
}

// New creates a Slack transport from app credentials.
func New(cfg Config, log *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return nil, fmt.Errorf("slack signing secret is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		logger: log.With(slog.String("adapter", PlatformName)),
		cfg:    cfg,
		client: slack.New(cfg.BotToken),
	}, nil
}

// Name returns the slack platform key.
func (t *Transport) Name() string {
	return PlatformName
}

// Capabilities returns the Slack descriptor. The Web API offers no
// typing indicator or read receipts to bots.
func (t *Transport) Capabilities() *bot.Capabilities {
	return &bot.Capabilities{
		Receives: bot.ReceiveCapabilities{
			Text: true,
		},
		Sends: bot.SendCapabilities{
			Text:       true,
			QuickReply: true,
			Attachment: bot.SendAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
			},
		},
	}
}

var postMessageForTest func(client *slack.Client, ctx context.Context, channelID string, opts ...slack.MsgOption) (string, string, error)

func (t *Transport) postMessage(ctx context.Context, channelID string, opts ...slack.MsgOption) (string, string, error) {
	if postMessageForTest != nil {
		return postMessageForTest(t.client, ctx, channelID, opts...)
	}
	return t.client.PostMessageContext(ctx, channelID, opts...)
}

// SendNormalized encodes the message as Web API options and posts it.
// The message id is the Slack timestamp.
func (t *Transport) SendNormalized(ctx context.Context, msg *bot.OutgoingMessage) (*bot.TransportResponse, error) {
	opts, err := buildMsgOptions(msg.Message)
	if err != nil {
		return nil, err
	}
	channel, timestamp, err := t.postMessage(ctx, msg.RecipientID(), opts...)
	if err != nil {
		return nil, err
	}
	return &bot.TransportResponse{
		Raw:         map[string]any{"channel": channel, "ts": timestamp},
		RecipientID: channel,
		MessageID:   timestamp,
	}, nil
}

// buildMsgOptions maps a normalized body onto Web API message options.
func buildMsgOptions(body *bot.MessageBody) ([]slack.MsgOption, error) {
	if body == nil {
		return nil, fmt.Errorf("slack message body is required")
	}
	var opts []slack.MsgOption
	if body.Text != "" {
		opts = append(opts, slack.MsgOptionText(body.Text, false))
	}
	if att := body.Attachment; att != nil {
		opts = append(opts, slack.MsgOptionAttachments(buildAttachment(att)))
	}
	if len(body.QuickReplies) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(quickReplyBlock(body.QuickReplies)))
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("slack message has no sendable content")
	}
	return opts, nil
}

func buildAttachment(att *bot.Attachment) slack.Attachment {
	title := att.Title
	if title == "" {
		title = string(att.Type)
	}
	if att.Type == bot.AttachmentTypeImage {
		return slack.Attachment{Title: title, ImageURL: att.Payload.URL}
	}
	return slack.Attachment{Title: title, TitleLink: att.Payload.URL}
}

// quickReplyBlock renders quick replies as one actions block of
// buttons whose value is the quick reply payload.
func quickReplyBlock(quickReplies []bot.QuickReply) *slack.ActionBlock {
	elements := make([]slack.BlockElement, 0, len(quickReplies))
	for i, qr := range quickReplies {
		label := slack.NewTextBlockObject(slack.PlainTextType, qr.Title, false, false)
		elements = append(elements, slack.NewButtonBlockElement(fmt.Sprintf("quick_reply_%d", i), qr.Payload, label))
	}
	return slack.NewActionBlock("quick_replies", elements...)
}

// RawMessage is the payload SendRaw accepts: a channel plus prebuilt
// Web API options.
type RawMessage struct {
	Channel string
	Options []slack.MsgOption
}

// SendRaw posts prebuilt Web API options unchanged.
func (t *Transport) SendRaw(ctx context.Context, raw any) (any, error) {
	payload, ok := raw.(RawMessage)
	if !ok {
		return nil, fmt.Errorf("slack raw payload must be a slack.RawMessage, got %T", raw)
	}
	channel, timestamp, err := t.postMessage(ctx, payload.Channel, payload.Options...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"channel": channel, "ts": timestamp}, nil
}

// FormatUpdate decodes an Events API message event payload.
func (t *Transport) FormatUpdate(raw []byte) (*bot.Update, error) {
	var event slackevents.MessageEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode slack message event: %w", err)
	}
	update := formatMessageEvent(&event)
	if update == nil {
		return nil, fmt.Errorf("slack event is not a user message")
	}
	update.Raw = json.RawMessage(raw)
	return update, nil
}

// formatMessageEvent maps a message event onto the normalized shape.
// Bot-authored messages map to nil so a bot never hears itself. The
// sender party carries the channel id: Slack replies must target the
// conversation, not the user.
func formatMessageEvent(event *slackevents.MessageEvent) *bot.Update {
	if event.Type != "message" || event.BotID != "" || event.SubType != "" {
		return nil
	}
	return &bot.Update{
		Sender:    &bot.Party{ID: event.Channel},
		Recipient: &bot.Party{ID: event.User},
		Timestamp: tsToMillis(event.TimeStamp),
		Message: &bot.IncomingMessage{
			MID:  event.TimeStamp,
			Text: event.Text,
		},
		Raw: event,
	}
}

// tsToMillis converts a Slack "seconds.micros" timestamp to unix
// milliseconds.
func tsToMillis(ts string) int64 {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
	if err != nil {
		return 0
	}
	return int64(seconds * 1000)
}

var getUserForTest func(client *slack.Client, ctx context.Context, userID string) (*slack.User, error)

// GetUserInfo fetches the Slack user profile.
func (t *Transport) GetUserInfo(ctx context.Context, userID string) (map[string]any, error) {
	getUser := getUserForTest
	if getUser == nil {
		getUser = func(client *slack.Client, ctx context.Context, userID string) (*slack.User, error) {
			return client.GetUserInfoContext(ctx, userID)
		}
	}
	user, err := getUser(t.client, ctx, userID)
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"id":   user.ID,
		"name": user.Name,
	}
	if user.RealName != "" {
		info["real_name"] = user.RealName
	}
	if user.TZ != "" {
		info["tz"] = user.TZ
	}
	return info, nil
}

// MountWebhook registers the Events API receiver.
func (t *Transport) MountWebhook(g *echo.Group, emit bot.EmitFunc) {
	g.POST("/events", func(c echo.Context) error {
		return t.handleEvents(c, emit)
	})
}

func (t *Transport) handleEvents(c echo.Context, emit bot.EmitFunc) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := t.verifySignature(c.Request().Header, payload); err != nil {
		t.logger.Warn("events signature rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	event, err := slackevents.ParseEvent(json.RawMessage(payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("parse event: %v", err))
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(payload, &challenge); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decode challenge: %v", err))
		}
		return c.String(http.StatusOK, challenge.Challenge)
	case slackevents.CallbackEvent:
		if messageEvent, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			if update := formatMessageEvent(messageEvent); update != nil {
				emit(context.WithoutCancel(c.Request().Context()), update)
			}
		}
		return c.NoContent(http.StatusOK)
	default:
		return c.NoContent(http.StatusOK)
	}
}

func (t *Transport) verifySignature(header http.Header, payload []byte) error {
	verifier, err := slack.NewSecretsVerifier(header, t.cfg.SigningSecret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(payload); err != nil {
		return err
	}
	return verifier.Ensure()
}
