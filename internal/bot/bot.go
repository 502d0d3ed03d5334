package bot

import (
	"context"
	"fmt"
	"log/slog"
)

// SendOptions configures a single send. A nil or zero value is valid.
// Options are created per call and never shared across concurrent
// sends.
type SendOptions struct {
	// IgnoreMiddleware skips the outgoing middleware phase.
	IgnoreMiddleware bool
	// OnComplete, when set, is invoked with the send outcome after the
	// pipeline finishes. The same outcome is also returned to the
	// caller, which may ignore it. Cascade sends invoke it once for
	// the whole cascade, with a nil result; individual steps never do.
	OnComplete func(*SendResult, error)

	// update is stamped by BotView sends so outgoing middleware can
	// correlate a reply with the inbound update that caused it.
	update *Update
}

// TriggerUpdate returns the inbound update that triggered this send,
// or nil for sends not made through an update-bound view.
func (o *SendOptions) TriggerUpdate() *Update {
	if o == nil {
		return nil
	}
	return o.update
}

func (o *SendOptions) clone() *SendOptions {
	if o == nil {
		return &SendOptions{}
	}
	copied := *o
	return &copied
}

// Bot pairs one platform transport with the pipeline shared across the
// master: middleware stack, subscribers, logging. Create bots with
// Master.AddBot.
type Bot struct {
	id         string
	transport  Transport
	middleware *MiddlewareStack
	events     *events
	logger     *slog.Logger
}

// ID returns the bot's unique id, assigned at registration.
func (b *Bot) ID() string {
	return b.id
}

// Platform returns the transport's platform key.
func (b *Bot) Platform() string {
	return b.transport.Name()
}

// Transport returns the platform transport.
func (b *Bot) Transport() Transport {
	return b.transport
}

// Capabilities returns the transport's capability descriptor.
func (b *Bot) Capabilities() *Capabilities {
	return b.transport.Capabilities()
}

// CreateOutgoingMessage returns an empty builder.
func (b *Bot) CreateOutgoingMessage() *OutgoingMessage {
	return NewOutgoingMessage()
}

// CreateOutgoingMessageFor returns a builder addressed to recipientID.
func (b *Bot) CreateOutgoingMessageFor(recipientID string) *OutgoingMessage {
	return NewOutgoingMessageFor(recipientID)
}

// SendMessage runs the send pipeline: builder validation, capability
// check, outgoing middleware, transport, result assembly. When
// opts.OnComplete is set it is invoked with the outcome; the outcome
// is returned either way.
func (b *Bot) SendMessage(ctx context.Context, msg *OutgoingMessage, opts *SendOptions) (*SendResult, error) {
	result, err := b.sendMessage(ctx, msg, opts)
	if opts != nil && opts.OnComplete != nil {
		opts.OnComplete(result, err)
	}
	return result, err
}

func (b *Bot) sendMessage(ctx context.Context, msg *OutgoingMessage, opts *SendOptions) (*SendResult, error) {
	if msg == nil {
		return nil, newValidationError("outgoing message is required")
	}
	if err := msg.Err(); err != nil {
		return nil, err
	}
	if msg.RecipientID() == "" {
		return nil, newValidationError("outgoing message requires a recipient")
	}
	if !msg.HasContent() {
		return nil, newValidationError("outgoing message requires message content or a sender action")
	}
	if err := validateSendCapabilities(b.transport.Capabilities(), msg); err != nil {
		return nil, err
	}
	sent, err := b.middleware.runOutgoing(ctx, b, msg, opts)
	if err != nil {
		return nil, err
	}
	resp, err := b.transport.SendNormalized(ctx, sent)
	if err != nil {
		b.logger.Warn("send failed",
			slog.String("recipient_id", sent.RecipientID()),
			slog.Any("error", err))
		return nil, &TransportError{Platform: b.Platform(), Err: err}
	}
	b.logger.Debug("message sent",
		slog.String("recipient_id", resp.RecipientID),
		slog.String("message_id", resp.MessageID))
	return &SendResult{
		Raw:         resp.Raw,
		RecipientID: resp.RecipientID,
		MessageID:   resp.MessageID,
		SentMessage: sent,
	}, nil
}

// SendRaw hands a platform payload straight to the transport,
// bypassing validation and middleware.
func (b *Bot) SendRaw(ctx context.Context, raw any) (any, error) {
	resp, err := b.transport.SendRaw(ctx, raw)
	if err != nil {
		return nil, &TransportError{Platform: b.Platform(), Err: err}
	}
	return resp, nil
}

// GetUserInfo looks up profile data for a platform user. Transports
// without user lookup resolve to an empty result.
func (b *Bot) GetUserInfo(ctx context.Context, userID string) (map[string]any, error) {
	provider, ok := b.transport.(UserInfoProvider)
	if !ok {
		return nil, nil
	}
	return provider.GetUserInfo(ctx, userID)
}

// SendMessageTo wraps a bare message body with a recipient and sends it.
func (b *Bot) SendMessageTo(ctx context.Context, body *MessageBody, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendMessageTo(ctx, b, body, recipientID, opts)
}

// SendTextMessageTo sends a plain text message.
func (b *Bot) SendTextMessageTo(ctx context.Context, text, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendTextMessageTo(ctx, b, text, recipientID, opts)
}

// Reply sends text back to the sender of an inbound update.
func (b *Bot) Reply(ctx context.Context, update *Update, text string, opts *SendOptions) (*SendResult, error) {
	return reply(ctx, b, update, text, opts)
}

// SendAttachmentTo sends an attachment message.
func (b *Bot) SendAttachmentTo(ctx context.Context, attachment *Attachment, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendAttachmentTo(ctx, b, attachment, recipientID, opts)
}

// SendAttachmentFromURLTo sends an attachment of the given type
// pointing at url.
func (b *Bot) SendAttachmentFromURLTo(ctx context.Context, kind AttachmentType, url, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendAttachmentFromURLTo(ctx, b, kind, url, recipientID, opts)
}

// SendDefaultButtonMessageTo sends a message offering up to ten tappable
// button titles. See sendDefaultButtonMessageTo for the caption rules.
func (b *Bot) SendDefaultButtonMessageTo(ctx context.Context, buttonTitles []string, textOrAttachment any, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendDefaultButtonMessageTo(ctx, b, buttonTitles, textOrAttachment, recipientID, opts)
}

// SendIsTypingMessageTo sends a typing-on sender action. Its result
// carries the recipient id only, an intentional exception to the usual
// SendResult shape.
func (b *Bot) SendIsTypingMessageTo(ctx context.Context, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendIsTypingMessageTo(ctx, b, recipientID, opts)
}

// SendCascadeTo sends an ordered sequence of heterogeneous messages,
// one at a time. See sendCascadeTo.
func (b *Bot) SendCascadeTo(ctx context.Context, messages []CascadeMessage, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	return sendCascadeTo(ctx, b, messages, recipientID, opts)
}

// SendTextCascadeTo sends each string as its own text message, in order.
func (b *Bot) SendTextCascadeTo(ctx context.Context, texts []string, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	return sendTextCascadeTo(ctx, b, texts, recipientID, opts)
}

// messageSender is the send surface shared by Bot and BotView; the
// helper family is written once against it.
type messageSender interface {
	SendMessage(ctx context.Context, msg *OutgoingMessage, opts *SendOptions) (*SendResult, error)
}

func sendMessageTo(ctx context.Context, s messageSender, body *MessageBody, recipientID string, opts *SendOptions) (*SendResult, error) {
	if body == nil {
		return nil, newValidationError("message body is required")
	}
	msg := &OutgoingMessage{
		Recipient: &Recipient{ID: recipientID},
		Message:   body,
	}
	return s.SendMessage(ctx, msg, opts)
}

func sendTextMessageTo(ctx context.Context, s messageSender, text, recipientID string, opts *SendOptions) (*SendResult, error) {
	msg := NewOutgoingMessageFor(recipientID).AddText(text)
	return s.SendMessage(ctx, msg, opts)
}

func reply(ctx context.Context, s messageSender, update *Update, text string, opts *SendOptions) (*SendResult, error) {
	if update.SenderID() == "" {
		return nil, newValidationError("cannot reply to an update without a sender id")
	}
	return sendTextMessageTo(ctx, s, text, update.SenderID(), opts)
}

func sendAttachmentTo(ctx context.Context, s messageSender, attachment *Attachment, recipientID string, opts *SendOptions) (*SendResult, error) {
	msg := NewOutgoingMessageFor(recipientID).AddAttachment(attachment)
	return s.SendMessage(ctx, msg, opts)
}

func sendAttachmentFromURLTo(ctx context.Context, s messageSender, kind AttachmentType, url, recipientID string, opts *SendOptions) (*SendResult, error) {
	msg := NewOutgoingMessageFor(recipientID).AddAttachmentFromURL(kind, url)
	return s.SendMessage(ctx, msg, opts)
}

// defaultButtonCaption is used when a button message is sent without a
// caption of its own.
const defaultButtonCaption = "Please select one of:"

// sendDefaultButtonMessageTo sends up to ten button titles as text
// quick replies whose payload equals the title. The caption may be a
// string, an *Attachment, or nil, which falls back to
// defaultButtonCaption; any other type is rejected before transport.
func sendDefaultButtonMessageTo(ctx context.Context, s messageSender, buttonTitles []string, textOrAttachment any, recipientID string, opts *SendOptions) (*SendResult, error) {
	if len(buttonTitles) > 10 {
		return nil, newValidationError("button titles must be of length 10 or less")
	}
	msg := NewOutgoingMessageFor(recipientID)
	switch caption := textOrAttachment.(type) {
	case nil:
		msg.AddText(defaultButtonCaption)
	case string:
		if caption == "" {
			msg.AddText(defaultButtonCaption)
		} else {
			msg.AddText(caption)
		}
	case *Attachment:
		msg.AddAttachment(caption)
	case Attachment:
		msg.AddAttachment(&caption)
	default:
		return nil, newValidationError("button message caption must be a string or an attachment, got %T", textOrAttachment)
	}
	msg.AddPayloadlessQuickReplies(buttonTitles)
	return s.SendMessage(ctx, msg, opts)
}

func sendIsTypingMessageTo(ctx context.Context, s messageSender, recipientID string, opts *SendOptions) (*SendResult, error) {
	msg := NewOutgoingMessageFor(recipientID).AddSenderAction(SenderActionTypingOn)
	// The completion callback must observe the reduced result, so it is
	// withheld from the inner send and fired here instead.
	inner := opts.clone()
	inner.OnComplete = nil
	result, err := s.SendMessage(ctx, msg, inner)
	if result != nil {
		result = &SendResult{RecipientID: result.RecipientID}
	}
	if opts != nil && opts.OnComplete != nil {
		opts.OnComplete(result, err)
	}
	return result, err
}

func validateTransport(transport Transport) error {
	if transport == nil {
		return fmt.Errorf("transport is required")
	}
	if transport.Name() == "" {
		return fmt.Errorf("transport name is required")
	}
	return nil
}
