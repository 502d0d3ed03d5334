package bot

import "strings"

// NewOutgoingMessage creates an empty outgoing message builder.
func NewOutgoingMessage() *OutgoingMessage {
	return &OutgoingMessage{}
}

// NewOutgoingMessageFor creates a builder addressed to the given
// recipient.
func NewOutgoingMessageFor(recipientID string) *OutgoingMessage {
	return NewOutgoingMessage().AddRecipientByID(recipientID)
}

// Err returns the first invalid combination recorded by the builder,
// or nil. The send pipeline surfaces it before any middleware or I/O.
func (m *OutgoingMessage) Err() error {
	return m.err
}

func (m *OutgoingMessage) fail(format string, args ...any) *OutgoingMessage {
	if m.err == nil {
		m.err = newValidationError(format, args...)
	}
	return m
}

func (m *OutgoingMessage) ensureMessage() *MessageBody {
	if m.Message == nil {
		m.Message = &MessageBody{}
	}
	return m.Message
}

// AddRecipientByID addresses the message to a platform user id.
func (m *OutgoingMessage) AddRecipientByID(id string) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	if strings.TrimSpace(id) == "" {
		return m.fail("recipient id is required")
	}
	m.Recipient = &Recipient{ID: id}
	return m
}

// AddText sets the text body. Text cannot be combined with an
// attachment or a sender action.
func (m *OutgoingMessage) AddText(text string) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	if m.SenderAction != "" {
		return m.fail("cannot add text to a message with a sender action")
	}
	if m.Message != nil && m.Message.Attachment != nil {
		return m.fail("cannot add text to a message with an attachment")
	}
	m.ensureMessage().Text = text
	return m
}

// AddAttachment sets the attachment body. An attachment cannot be
// combined with text or a sender action.
func (m *OutgoingMessage) AddAttachment(attachment *Attachment) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	if attachment == nil {
		return m.fail("attachment is required")
	}
	if m.SenderAction != "" {
		return m.fail("cannot add an attachment to a message with a sender action")
	}
	if m.Message != nil && m.Message.Text != "" {
		return m.fail("cannot add an attachment to a message with text")
	}
	m.ensureMessage().Attachment = attachment
	return m
}

// AddAttachmentFromURL builds a minimal attachment of the given type
// pointing at url and delegates to AddAttachment.
func (m *OutgoingMessage) AddAttachmentFromURL(kind AttachmentType, url string) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	if strings.TrimSpace(url) == "" {
		return m.fail("attachment url is required")
	}
	return m.AddAttachment(&Attachment{
		Type:    kind,
		Payload: AttachmentPayload{URL: url},
	})
}

// AddQuickReplies layers quick replies onto a text or attachment
// message. Quick replies cannot accompany a sender action.
func (m *OutgoingMessage) AddQuickReplies(quickReplies []QuickReply) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	if m.SenderAction != "" {
		return m.fail("cannot add quick replies to a message with a sender action")
	}
	if len(quickReplies) == 0 {
		return m.fail("at least one quick reply is required")
	}
	m.ensureMessage().QuickReplies = quickReplies
	return m
}

// AddPayloadlessQuickReplies builds text quick replies whose payload
// equals the title verbatim.
func (m *OutgoingMessage) AddPayloadlessQuickReplies(titles []string) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	quickReplies := make([]QuickReply, 0, len(titles))
	for _, title := range titles {
		quickReplies = append(quickReplies, QuickReply{
			ContentType: QuickReplyContentTypeText,
			Title:       title,
			Payload:     title,
		})
	}
	return m.AddQuickReplies(quickReplies)
}

// AddSenderAction turns the message into a contentless signal. A
// sender action cannot be combined with any message content.
func (m *OutgoingMessage) AddSenderAction(action SenderAction) *OutgoingMessage {
	if m.err != nil {
		return m
	}
	if m.Message != nil {
		return m.fail("cannot add a sender action to a message with content")
	}
	switch action {
	case SenderActionTypingOn, SenderActionTypingOff, SenderActionMarkSeen:
	default:
		return m.fail("sender action must be one of typing_on, typing_off or mark_seen")
	}
	m.SenderAction = action
	return m
}
