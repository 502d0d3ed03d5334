// Package telegram implements the Telegram transport over the Bot API:
// sends through the shared pipeline, inbound updates through long
// polling. Quick replies are rendered as a one-time reply keyboard.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omnibothq/omnibot/internal/bot"
)

// PlatformName is the platform key telegram transports report.
const PlatformName = "telegram"

const longPollTimeoutSeconds = 30

// Config holds the Telegram bot credentials.
type Config struct {
	BotToken string
}

// Transport is the Telegram platform transport.
type Transport struct {
	logger *slog.Logger
	api    *tgbotapi.BotAPI

	cancel  context.CancelFunc
	updates tgbotapi.UpdatesChannel
}

var newBotAPIForTest func(token string) (*tgbotapi.BotAPI, error)

// New creates a Telegram transport and authenticates against the Bot
// API.
func New(cfg Config, log *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if log == nil {
		log = slog.Default()
	}
	construct := newBotAPIForTest
	if construct == nil {
		construct = tgbotapi.NewBotAPI
	}
	api, err := construct(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	return &Transport{
		logger: log.With(slog.String("adapter", PlatformName)),
		api:    api,
	}, nil
}

// Name returns the telegram platform key.
func (t *Transport) Name() string {
	return PlatformName
}

// Capabilities returns the Telegram descriptor. Telegram has no read
// or delivery receipts and no mark-seen or typing-off actions; button
// taps arrive as plain text, not quick reply payloads.
func (t *Transport) Capabilities() *bot.Capabilities {
	return &bot.Capabilities{
		Receives: bot.ReceiveCapabilities{
			Text: true,
			Attachment: bot.ReceiveAttachmentCapabilities{
				Audio: true, File: true, Image: true, Video: true,
				Location: true,
			},
			Postback: true,
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

var sendForTest func(api *tgbotapi.BotAPI, c tgbotapi.Chattable) (tgbotapi.Message, error)

func (t *Transport) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if sendForTest != nil {
		return sendForTest(t.api, c)
	}
	return t.api.Send(c)
}

var requestForTest func(api *tgbotapi.BotAPI, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)

func (t *Transport) request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if requestForTest != nil {
		return requestForTest(t.api, c)
	}
	return t.api.Request(c)
}

// chatRef resolves a recipient id into a Telegram chat reference:
// numeric chat ids address chats directly, @usernames address channels.
func chatRef(recipientID string) (tgbotapi.BaseChat, error) {
	recipientID = strings.TrimSpace(recipientID)
	if strings.HasPrefix(recipientID, "@") {
		return tgbotapi.BaseChat{ChannelUsername: recipientID}, nil
	}
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return tgbotapi.BaseChat{}, fmt.Errorf("telegram recipient must be @username or chat_id")
	}
	return tgbotapi.BaseChat{ChatID: chatID}, nil
}

// SendNormalized encodes the message for the Bot API and delivers it.
func (t *Transport) SendNormalized(ctx context.Context, msg *bot.OutgoingMessage) (*bot.TransportResponse, error) {
	base, err := chatRef(msg.RecipientID())
	if err != nil {
		return nil, err
	}

	if msg.SenderAction != "" {
		resp, err := t.request(tgbotapi.ChatActionConfig{BaseChat: base, Action: tgbotapi.ChatTyping})
		if err != nil {
			return nil, err
		}
		return &bot.TransportResponse{Raw: resp, RecipientID: msg.RecipientID()}, nil
	}

	chattable, err := buildSendConfig(base, msg.Message)
	if err != nil {
		return nil, err
	}
	sent, err := t.send(chattable)
	if err != nil {
		return nil, err
	}
	return &bot.TransportResponse{
		Raw:         sent,
		RecipientID: msg.RecipientID(),
		MessageID:   strconv.Itoa(sent.MessageID),
	}, nil
}

// buildSendConfig maps a normalized message body onto the Bot API
// config for its shape.
func buildSendConfig(base tgbotapi.BaseChat, body *bot.MessageBody) (tgbotapi.Chattable, error) {
	if body == nil {
		return nil, fmt.Errorf("telegram message body is required")
	}
	if len(body.QuickReplies) > 0 {
		base.ReplyMarkup = quickReplyKeyboard(body.QuickReplies)
	}
	if att := body.Attachment; att != nil {
		file := tgbotapi.FileURL(att.Payload.URL)
		baseFile := tgbotapi.BaseFile{BaseChat: base, File: file}
		switch att.Type {
		case bot.AttachmentTypeImage:
			return tgbotapi.PhotoConfig{BaseFile: baseFile}, nil
		case bot.AttachmentTypeAudio:
			return tgbotapi.AudioConfig{BaseFile: baseFile}, nil
		case bot.AttachmentTypeVideo:
			return tgbotapi.VideoConfig{BaseFile: baseFile}, nil
		case bot.AttachmentTypeFile:
			return tgbotapi.DocumentConfig{BaseFile: baseFile}, nil
		default:
			return nil, fmt.Errorf("telegram cannot send attachment type %s", att.Type)
		}
	}
	return tgbotapi.MessageConfig{BaseChat: base, Text: body.Text}, nil
}

// quickReplyKeyboard renders quick replies as a one-time reply
// keyboard, one button per row. Taps come back as plain text.
func quickReplyKeyboard(quickReplies []bot.QuickReply) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(quickReplies))
	for _, qr := range quickReplies {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(qr.Title)))
	}
	keyboard := tgbotapi.NewOneTimeReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	return keyboard
}

// SendRaw delivers a prebuilt Bot API config unchanged.
func (t *Transport) SendRaw(ctx context.Context, raw any) (any, error) {
	chattable, ok := raw.(tgbotapi.Chattable)
	if !ok {
		return nil, fmt.Errorf("telegram raw payload must be a tgbotapi.Chattable, got %T", raw)
	}
	return t.request(chattable)
}

// FormatUpdate decodes a Bot API update payload.
func (t *Transport) FormatUpdate(raw []byte) (*bot.Update, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	formatted := t.formatUpdate(update)
	if formatted == nil {
		return nil, fmt.Errorf("telegram update has no message or callback query")
	}
	return formatted, nil
}

// formatUpdate maps a Bot API update onto the normalized shape.
// Updates that carry neither a message nor a callback query map to
// nil.
func (t *Transport) formatUpdate(update tgbotapi.Update) *bot.Update {
	switch {
	case update.Message != nil:
		m := update.Message
		formatted := &bot.Update{
			Sender:    senderParty(m.From),
			Recipient: chatParty(m.Chat),
			Timestamp: int64(m.Date) * 1000,
			Message: &bot.IncomingMessage{
				MID:         strconv.Itoa(update.UpdateID),
				Seq:         int64(m.MessageID),
				Text:        messageText(m),
				Attachments: t.collectAttachments(m),
			},
			Raw: update,
		}
		return formatted
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		formatted := &bot.Update{
			Sender:   senderParty(cq.From),
			Postback: &bot.Postback{Payload: cq.Data},
			Raw:      update,
		}
		if cq.Message != nil {
			formatted.Recipient = chatParty(cq.Message.Chat)
			formatted.Timestamp = int64(cq.Message.Date) * 1000
		}
		return formatted
	default:
		return nil
	}
}

func senderParty(from *tgbotapi.User) *bot.Party {
	if from == nil {
		return nil
	}
	return &bot.Party{ID: strconv.FormatInt(from.ID, 10)}
}

func chatParty(chat *tgbotapi.Chat) *bot.Party {
	if chat == nil {
		return nil
	}
	return &bot.Party{ID: strconv.FormatInt(chat.ID, 10)}
}

func messageText(m *tgbotapi.Message) string {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	return text
}

var fileURLForTest func(api *tgbotapi.BotAPI, fileID string) (string, error)

// fileDirectURL resolves a file id to a download URL, best effort. A
// failed lookup leaves the attachment URL empty rather than dropping
// the update.
func (t *Transport) fileDirectURL(fileID string) string {
	resolve := fileURLForTest
	if resolve == nil {
		resolve = func(api *tgbotapi.BotAPI, fileID string) (string, error) {
			return api.GetFileDirectURL(fileID)
		}
	}
	url, err := resolve(t.api, fileID)
	if err != nil {
		t.logger.Warn("resolve file url failed", slog.String("file_id", fileID), slog.Any("error", err))
		return ""
	}
	return url
}

func (t *Transport) collectAttachments(m *tgbotapi.Message) []bot.Attachment {
	var attachments []bot.Attachment
	if len(m.Photo) > 0 {
		// The last size is the largest.
		largest := m.Photo[len(m.Photo)-1]
		attachments = append(attachments, bot.Attachment{
			Type:    bot.AttachmentTypeImage,
			Payload: bot.AttachmentPayload{URL: t.fileDirectURL(largest.FileID)},
		})
	}
	if m.Audio != nil {
		attachments = append(attachments, bot.Attachment{
			Type:    bot.AttachmentTypeAudio,
			Payload: bot.AttachmentPayload{URL: t.fileDirectURL(m.Audio.FileID)},
		})
	}
	if m.Voice != nil {
		attachments = append(attachments, bot.Attachment{
			Type:    bot.AttachmentTypeAudio,
			Payload: bot.AttachmentPayload{URL: t.fileDirectURL(m.Voice.FileID)},
		})
	}
	if m.Video != nil {
		attachments = append(attachments, bot.Attachment{
			Type:    bot.AttachmentTypeVideo,
			Payload: bot.AttachmentPayload{URL: t.fileDirectURL(m.Video.FileID)},
		})
	}
	if m.Document != nil {
		attachments = append(attachments, bot.Attachment{
			Type:    bot.AttachmentTypeFile,
			Title:   m.Document.FileName,
			Payload: bot.AttachmentPayload{URL: t.fileDirectURL(m.Document.FileID)},
		})
	}
	if m.Location != nil {
		attachments = append(attachments, bot.Attachment{
			Type: bot.AttachmentTypeLocation,
			Payload: bot.AttachmentPayload{
				Coordinates: &bot.Coordinates{Lat: m.Location.Latitude, Long: m.Location.Longitude},
			},
		})
	}
	return attachments
}

var getChatForTest func(api *tgbotapi.BotAPI, chatID int64) (tgbotapi.Chat, error)

// GetUserInfo fetches chat metadata for a numeric user id.
func (t *Transport) GetUserInfo(ctx context.Context, userID string) (map[string]any, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram user id must be numeric")
	}
	getChat := getChatForTest
	if getChat == nil {
		getChat = func(api *tgbotapi.BotAPI, chatID int64) (tgbotapi.Chat, error) {
			return api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		}
	}
	chat, err := getChat(t.api, chatID)
	if err != nil {
		return nil, err
	}
	info := map[string]any{"id": chat.ID, "type": chat.Type}
	if chat.UserName != "" {
		info["username"] = chat.UserName
	}
	if chat.FirstName != "" {
		info["first_name"] = chat.FirstName
	}
	if chat.LastName != "" {
		info["last_name"] = chat.LastName
	}
	if chat.Title != "" {
		info["title"] = chat.Title
	}
	return info, nil
}

// Connect starts long polling and pumps updates into emit. The pump
// outlives the setup context; Close stops it.
func (t *Transport) Connect(ctx context.Context, emit bot.EmitFunc) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = longPollTimeoutSeconds
	updates := t.api.GetUpdatesChan(updateConfig)
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.updates = updates

	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					t.logger.Info("updates channel closed")
					return
				}
				formatted := t.formatUpdate(update)
				if formatted == nil {
					continue
				}
				emit(pumpCtx, formatted)
			}
		}
	}()
	t.logger.Info("long polling started")
	return nil
}

// Close stops long polling and drains in-flight updates so the
// library's polling goroutine can exit; otherwise the old getUpdates
// session lingers and conflicts with the next connection.
func (t *Transport) Close() error {
	if t.cancel == nil {
		return nil
	}
	t.api.StopReceivingUpdates()
	t.cancel()
	for range t.updates {
	}
	t.cancel = nil
	t.logger.Info("long polling stopped")
	return nil
}
