// Package bot implements the shared messaging pipeline used by every
// platform transport: the outgoing message builder, the incoming and
// outgoing middleware phases, the send pipeline, cascade sends, and
// inbound update delivery.
package bot

import "strings"

// Recipient addresses an outgoing message.
type Recipient struct {
	ID string `json:"id"`
}

// Party identifies one side of an inbound update.
type Party struct {
	ID string `json:"id"`
}

// AttachmentType classifies the kind of attachment.
type AttachmentType string

const (
	AttachmentTypeAudio AttachmentType = "audio"
	AttachmentTypeFile  AttachmentType = "file"
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeVideo AttachmentType = "video"
	// AttachmentTypeLocation occurs on inbound updates only.
	AttachmentTypeLocation AttachmentType = "location"
	// AttachmentTypeFallback occurs on inbound updates the platform
	// could not classify, link previews for example.
	AttachmentTypeFallback AttachmentType = "fallback"
)

// Coordinates carries the position of a location attachment.
type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// AttachmentPayload is the content of an attachment.
type AttachmentPayload struct {
	URL         string       `json:"url,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Attachment represents a non-text message part, on both outgoing
// messages and inbound updates.
type Attachment struct {
	Type    AttachmentType    `json:"type"`
	Title   string            `json:"title,omitempty"`
	Payload AttachmentPayload `json:"payload"`
}

// QuickReply is a tappable shortcut offered alongside a message.
type QuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
	ImageURL    string `json:"image_url,omitempty"`
}

// QuickReplyContentTypeText is the only quick reply content type the
// pipeline produces itself.
const QuickReplyContentTypeText = "text"

// SenderAction is a contentless signal sent instead of a message body.
type SenderAction string

const (
	SenderActionTypingOn  SenderAction = "typing_on"
	SenderActionTypingOff SenderAction = "typing_off"
	SenderActionMarkSeen  SenderAction = "mark_seen"
)

// MessageBody is the content portion of an outgoing message.
type MessageBody struct {
	Text         string       `json:"text,omitempty"`
	Attachment   *Attachment  `json:"attachment,omitempty"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

// OutgoingMessage is the normalized envelope handed to transports.
// Build one with NewOutgoingMessage and the Add* methods; the first
// invalid combination is recorded and surfaced by the send pipeline
// before any I/O.
type OutgoingMessage struct {
	Recipient    *Recipient   `json:"recipient,omitempty"`
	Message      *MessageBody `json:"message,omitempty"`
	SenderAction SenderAction `json:"sender_action,omitempty"`

	err error
}

// RecipientID returns the recipient id, or empty if unset.
func (m *OutgoingMessage) RecipientID() string {
	if m == nil || m.Recipient == nil {
		return ""
	}
	return m.Recipient.ID
}

// HasContent reports whether a message body or sender action is set.
func (m *OutgoingMessage) HasContent() bool {
	if m == nil {
		return false
	}
	return m.Message != nil || m.SenderAction != ""
}

// QuickReplyPayload carries the payload of a tapped quick reply on an
// inbound message.
type QuickReplyPayload struct {
	Payload string `json:"payload"`
}

// IncomingMessage is the message portion of an inbound update.
type IncomingMessage struct {
	MID         string             `json:"mid,omitempty"`
	Seq         int64              `json:"seq,omitempty"`
	Text        string             `json:"text,omitempty"`
	Attachments []Attachment       `json:"attachments,omitempty"`
	QuickReply  *QuickReplyPayload `json:"quick_reply,omitempty"`
	IsEcho      bool               `json:"is_echo,omitempty"`
}

// Postback is a button press delivering an application payload.
type Postback struct {
	Payload string `json:"payload"`
}

// Read is a read receipt watermark.
type Read struct {
	Watermark int64 `json:"watermark"`
	Seq       int64 `json:"seq,omitempty"`
}

// Delivery confirms delivery of previously sent messages.
type Delivery struct {
	MIDs      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
	Seq       int64    `json:"seq,omitempty"`
}

// Update is the normalized inbound event produced by a transport's
// FormatUpdate. It flows once through incoming middleware and is not
// mutated after delivery.
type Update struct {
	Sender    *Party           `json:"sender"`
	Recipient *Party           `json:"recipient,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
	Message   *IncomingMessage `json:"message,omitempty"`
	Postback  *Postback        `json:"postback,omitempty"`
	Read      *Read            `json:"read,omitempty"`
	Delivery  *Delivery        `json:"delivery,omitempty"`

	// Raw is the platform payload the update was decoded from.
	Raw any `json:"-"`
}

// SenderID returns the sender id, or empty if the update carries none.
func (u *Update) SenderID() string {
	if u == nil || u.Sender == nil {
		return ""
	}
	return strings.TrimSpace(u.Sender.ID)
}

// TransportResponse is what a transport reports back for one
// normalized send.
type TransportResponse struct {
	Raw         any
	RecipientID string
	MessageID   string
}

// SendResult is the outcome of one send pipeline invocation.
// SentMessage is the exact message that was transmitted, after
// outgoing middleware ran, never the pre-middleware input.
type SendResult struct {
	Raw         any              `json:"raw,omitempty"`
	RecipientID string           `json:"recipient_id,omitempty"`
	MessageID   string           `json:"message_id,omitempty"`
	SentMessage *OutgoingMessage `json:"sent_message,omitempty"`
}
