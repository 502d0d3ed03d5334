// Package discord implements the Discord transport over the gateway
// websocket. Inbound messages arrive through a MessageCreate handler,
// so the transport connects instead of mounting a webhook.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/omnibothq/omnibot/internal/bot"
)

// PlatformName is the platform key discord transports report.
const PlatformName = "discord"

// Config holds the Discord bot credentials.
type Config struct {
	// BotToken authorizes both the gateway and the REST API.
	BotToken string
}

// Transport is the Discord platform transport.
type Transport struct {
	logger        *slog.Logger
	session       *discordgo.Session
	removeHandler func()
}

// New creates a Discord transport from a bot token.
func New(cfg Config, log *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if log == nil {
		log = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord client: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	return &Transport{
		logger:  log.With(slog.String("adapter", PlatformName)),
		session: session,
	}, nil
}

// Name returns the discord platform key.
func (t *Transport) Name() string {
	return PlatformName
}

// Capabilities returns the Discord descriptor. Quick replies render as
// button components and the only sender action is the typing
// indicator.
func (t *Transport) Capabilities() *bot.Capabilities {
	return &bot.Capabilities{
		Receives: bot.ReceiveCapabilities{
			Text: true,
			Attachment: bot.ReceiveAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
			},
		},
		Sends: bot.SendCapabilities{
			Text:       true,
			QuickReply: true,
			Attachment: bot.SendAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
			},
			SenderAction: bot.SenderActionCapabilities{
				TypingOn: true,
			},
		},
	}
}

var sendComplexForTest func(s *discordgo.Session, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)

func (t *Transport) sendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	if sendComplexForTest != nil {
		return sendComplexForTest(t.session, channelID, data)
	}
	return t.session.ChannelMessageSendComplex(channelID, data)
}

var channelTypingForTest func(s *discordgo.Session, channelID string) error

func (t *Transport) channelTyping(channelID string) error {
	if channelTypingForTest != nil {
		return channelTypingForTest(t.session, channelID)
	}
	return t.session.ChannelTyping(channelID)
}

// SendNormalized posts the message to the recipient channel. The
// typing indicator maps to the channel typing endpoint and produces no
// message id.
func (t *Transport) SendNormalized(ctx context.Context, msg *bot.OutgoingMessage) (*bot.TransportResponse, error) {
	if action := msg.SenderAction; action != "" {
		if action != bot.SenderActionTypingOn {
			return nil, fmt.Errorf("discord cannot send sender action %s", action)
		}
		if err := t.channelTyping(msg.RecipientID()); err != nil {
			return nil, err
		}
		return &bot.TransportResponse{RecipientID: msg.RecipientID()}, nil
	}

	data, err := buildMessageSend(msg.Message)
	if err != nil {
		return nil, err
	}
	sent, err := t.sendComplex(msg.RecipientID(), data)
	if err != nil {
		return nil, err
	}
	return &bot.TransportResponse{
		Raw:         sent,
		RecipientID: sent.ChannelID,
		MessageID:   sent.ID,
	}, nil
}

// buildMessageSend maps a normalized body onto a channel message.
// Images become embeds; other media rides as a link the client
// unfurls.
func buildMessageSend(body *bot.MessageBody) (*discordgo.MessageSend, error) {
	if body == nil {
		return nil, fmt.Errorf("discord message body is required")
	}
	data := &discordgo.MessageSend{Content: body.Text}
	if att := body.Attachment; att != nil {
		switch att.Type {
		case bot.AttachmentTypeImage:
			data.Embeds = append(data.Embeds, &discordgo.MessageEmbed{
				Title: att.Title,
				Image: &discordgo.MessageEmbedImage{URL: att.Payload.URL},
			})
		case bot.AttachmentTypeAudio, bot.AttachmentTypeVideo, bot.AttachmentTypeFile:
			if data.Content != "" {
				data.Content += "\n"
			}
			data.Content += att.Payload.URL
		default:
			return nil, fmt.Errorf("discord cannot send attachment type %s", att.Type)
		}
	}
	if len(body.QuickReplies) > 0 {
		data.Components = quickReplyComponents(body.QuickReplies)
	}
	if data.Content == "" && len(data.Embeds) == 0 && len(data.Components) == 0 {
		return nil, fmt.Errorf("discord message has no sendable content")
	}
	return data, nil
}

// quickReplyComponents renders quick replies as button rows. Discord
// caps a row at five buttons.
func quickReplyComponents(quickReplies []bot.QuickReply) []discordgo.MessageComponent {
	const maxPerRow = 5
	var rows []discordgo.MessageComponent
	for start := 0; start < len(quickReplies); start += maxPerRow {
		end := min(start+maxPerRow, len(quickReplies))
		row := discordgo.ActionsRow{}
		for i, qr := range quickReplies[start:end] {
			customID := qr.Payload
			if customID == "" {
				customID = fmt.Sprintf("quick_reply_%d", start+i)
			}
			row.Components = append(row.Components, discordgo.Button{
				Label:    qr.Title,
				Style:    discordgo.PrimaryButton,
				CustomID: customID,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// RawMessage is the payload SendRaw accepts: a channel plus a prebuilt
// message send.
type RawMessage struct {
	ChannelID string
	Data      *discordgo.MessageSend
}

// SendRaw posts a prebuilt channel message unchanged.
func (t *Transport) SendRaw(ctx context.Context, raw any) (any, error) {
	payload, ok := raw.(RawMessage)
	if !ok {
		return nil, fmt.Errorf("discord raw payload must be a discord.RawMessage, got %T", raw)
	}
	return t.sendComplex(payload.ChannelID, payload.Data)
}

// FormatUpdate decodes a gateway message payload.
func (t *Transport) FormatUpdate(raw []byte) (*bot.Update, error) {
	var message discordgo.Message
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, fmt.Errorf("decode discord message: %w", err)
	}
	update := formatMessage(&message)
	if update == nil {
		return nil, fmt.Errorf("discord event is not a user message")
	}
	update.Raw = json.RawMessage(raw)
	return update, nil
}

// formatMessage maps a channel message onto the normalized shape.
// Bot-authored messages map to nil so a bot never hears itself. The
// sender party carries the channel id: Discord replies must target
// the channel, not the author.
func formatMessage(message *discordgo.Message) *bot.Update {
	if message.Author == nil || message.Author.Bot {
		return nil
	}
	return &bot.Update{
		Sender:    &bot.Party{ID: message.ChannelID},
		Recipient: &bot.Party{ID: message.Author.ID},
		Timestamp: message.Timestamp.UnixMilli(),
		Message: &bot.IncomingMessage{
			MID:         message.ID,
			Text:        message.Content,
			Attachments: collectAttachments(message),
		},
		Raw: message,
	}
}

func collectAttachments(message *discordgo.Message) []bot.Attachment {
	var attachments []bot.Attachment
	for _, att := range message.Attachments {
		attachments = append(attachments, bot.Attachment{
			Type:    attachmentType(att.ContentType),
			Title:   att.Filename,
			Payload: bot.AttachmentPayload{URL: att.URL},
		})
	}
	return attachments
}

func attachmentType(contentType string) bot.AttachmentType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return bot.AttachmentTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return bot.AttachmentTypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return bot.AttachmentTypeAudio
	default:
		return bot.AttachmentTypeFile
	}
}

var getUserForTest func(s *discordgo.Session, userID string) (*discordgo.User, error)

// GetUserInfo fetches the Discord user profile.
func (t *Transport) GetUserInfo(ctx context.Context, userID string) (map[string]any, error) {
	getUser := getUserForTest
	if getUser == nil {
		getUser = func(s *discordgo.Session, userID string) (*discordgo.User, error) {
			return s.User(userID)
		}
	}
	user, err := getUser(t.session, userID)
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"bot":      user.Bot,
	}
	if user.GlobalName != "" {
		info["global_name"] = user.GlobalName
	}
	if user.Avatar != "" {
		info["avatar_url"] = user.AvatarURL("")
	}
	return info, nil
}

// Connect registers the message handler and opens the gateway. The
// handler outlives the startup context, so emission detaches from its
// cancellation.
func (t *Transport) Connect(ctx context.Context, emit bot.EmitFunc) error {
	t.removeHandler = t.session.AddHandler(t.messageCreateHandler(context.WithoutCancel(ctx), emit))
	if err := t.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	t.logger.Info("gateway connected")
	return nil
}

func (t *Transport) messageCreateHandler(ctx context.Context, emit bot.EmitFunc) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if s.State != nil && s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID {
			return
		}
		update := formatMessage(m.Message)
		if update == nil {
			return
		}
		emit(ctx, update)
	}
}

// Close removes the message handler and closes the gateway session.
func (t *Transport) Close() error {
	if t.removeHandler != nil {
		t.removeHandler()
		t.removeHandler = nil
	}
	return t.session.Close()
}
