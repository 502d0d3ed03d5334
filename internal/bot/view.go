package bot

import "context"

// BotView is a bot bound to the inbound update that produced it. Sends
// made through the view stamp that update into their options, so
// outgoing middleware can correlate a reply with its cause via
// opts.TriggerUpdate. Everything else delegates to the underlying bot
// unchanged.
type BotView struct {
	bot    *Bot
	update *Update
}

// PatchedWithUpdate returns a view of the bot bound to update.
func (b *Bot) PatchedWithUpdate(update *Update) *BotView {
	return &BotView{bot: b, update: update}
}

// Bot returns the underlying bot.
func (v *BotView) Bot() *Bot {
	return v.bot
}

// Update returns the inbound update the view is bound to.
func (v *BotView) Update() *Update {
	return v.update
}

// ID returns the underlying bot's id.
func (v *BotView) ID() string {
	return v.bot.ID()
}

// Platform returns the underlying transport's platform key.
func (v *BotView) Platform() string {
	return v.bot.Platform()
}

// Capabilities returns the underlying transport's descriptor.
func (v *BotView) Capabilities() *Capabilities {
	return v.bot.Capabilities()
}

// CreateOutgoingMessage returns an empty builder.
func (v *BotView) CreateOutgoingMessage() *OutgoingMessage {
	return NewOutgoingMessage()
}

// CreateOutgoingMessageFor returns a builder addressed to recipientID.
func (v *BotView) CreateOutgoingMessageFor(recipientID string) *OutgoingMessage {
	return NewOutgoingMessageFor(recipientID)
}

// SendMessage stamps the bound update into a copy of the options and
// delegates to the underlying bot. The caller's options are not
// mutated.
func (v *BotView) SendMessage(ctx context.Context, msg *OutgoingMessage, opts *SendOptions) (*SendResult, error) {
	patched := opts.clone()
	patched.update = v.update
	return v.bot.SendMessage(ctx, msg, patched)
}

// SendRaw delegates to the underlying bot's raw bypass.
func (v *BotView) SendRaw(ctx context.Context, raw any) (any, error) {
	return v.bot.SendRaw(ctx, raw)
}

// GetUserInfo delegates to the underlying bot.
func (v *BotView) GetUserInfo(ctx context.Context, userID string) (map[string]any, error) {
	return v.bot.GetUserInfo(ctx, userID)
}

// SendMessageTo wraps a bare message body with a recipient and sends it.
func (v *BotView) SendMessageTo(ctx context.Context, body *MessageBody, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendMessageTo(ctx, v, body, recipientID, opts)
}

// SendTextMessageTo sends a plain text message.
func (v *BotView) SendTextMessageTo(ctx context.Context, text, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendTextMessageTo(ctx, v, text, recipientID, opts)
}

// Reply sends text back to the sender of an inbound update.
func (v *BotView) Reply(ctx context.Context, update *Update, text string, opts *SendOptions) (*SendResult, error) {
	return reply(ctx, v, update, text, opts)
}

// ReplyToUpdate sends text back to the sender of the bound update.
func (v *BotView) ReplyToUpdate(ctx context.Context, text string, opts *SendOptions) (*SendResult, error) {
	return reply(ctx, v, v.update, text, opts)
}

// SendAttachmentTo sends an attachment message.
func (v *BotView) SendAttachmentTo(ctx context.Context, attachment *Attachment, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendAttachmentTo(ctx, v, attachment, recipientID, opts)
}

// SendAttachmentFromURLTo sends an attachment of the given type
// pointing at url.
func (v *BotView) SendAttachmentFromURLTo(ctx context.Context, kind AttachmentType, url, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendAttachmentFromURLTo(ctx, v, kind, url, recipientID, opts)
}

// SendDefaultButtonMessageTo sends a message offering up to ten
// tappable button titles.
func (v *BotView) SendDefaultButtonMessageTo(ctx context.Context, buttonTitles []string, textOrAttachment any, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendDefaultButtonMessageTo(ctx, v, buttonTitles, textOrAttachment, recipientID, opts)
}

// SendIsTypingMessageTo sends a typing-on sender action.
func (v *BotView) SendIsTypingMessageTo(ctx context.Context, recipientID string, opts *SendOptions) (*SendResult, error) {
	return sendIsTypingMessageTo(ctx, v, recipientID, opts)
}

// SendCascadeTo sends an ordered sequence of heterogeneous messages.
func (v *BotView) SendCascadeTo(ctx context.Context, messages []CascadeMessage, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	return sendCascadeTo(ctx, v, messages, recipientID, opts)
}

// SendTextCascadeTo sends each string as its own text message, in order.
func (v *BotView) SendTextCascadeTo(ctx context.Context, texts []string, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	return sendTextCascadeTo(ctx, v, texts, recipientID, opts)
}
