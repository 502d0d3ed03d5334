package bot

import "fmt"

// Capabilities declares which inbound and outbound message shapes a
// transport supports. Flags are set once at construction and treated
// as read-only afterward; the send pipeline consults Sends before I/O
// and fails fast on undeclared features.
type Capabilities struct {
	Receives ReceiveCapabilities
	Sends    SendCapabilities
}

// ReceiveCapabilities flags the inbound shapes a transport can produce.
type ReceiveCapabilities struct {
	Text       bool
	Attachment ReceiveAttachmentCapabilities
	Echo       bool
	Read       bool
	Delivery   bool
	Postback   bool
	QuickReply bool
}

// ReceiveAttachmentCapabilities flags inbound attachment kinds.
type ReceiveAttachmentCapabilities struct {
	Audio    bool
	File     bool
	Image    bool
	Video    bool
	Location bool
	Fallback bool
}

// SendCapabilities flags the outbound shapes a transport can deliver.
type SendCapabilities struct {
	Text         bool
	QuickReply   bool
	Attachment   SendAttachmentCapabilities
	SenderAction SenderActionCapabilities
}

// SendAttachmentCapabilities flags outbound attachment kinds.
type SendAttachmentCapabilities struct {
	Audio bool
	File  bool
	Image bool
	Video bool
}

// SenderActionCapabilities flags the contentless signals a transport
// can deliver.
type SenderActionCapabilities struct {
	TypingOn  bool
	TypingOff bool
	MarkSeen  bool
}

// validateSendCapabilities checks an outgoing message against the
// declared send capabilities. A nil descriptor places no restrictions.
func validateSendCapabilities(caps *Capabilities, msg *OutgoingMessage) error {
	if caps == nil || msg == nil {
		return nil
	}
	if msg.Message != nil {
		if msg.Message.Text != "" && !caps.Sends.Text {
			return newConfigurationError("platform does not support text messages")
		}
		if len(msg.Message.QuickReplies) > 0 && !caps.Sends.QuickReply {
			return newConfigurationError("platform does not support quick replies")
		}
		if att := msg.Message.Attachment; att != nil {
			if err := validateSendAttachment(caps.Sends.Attachment, att.Type); err != nil {
				return err
			}
		}
	}
	if msg.SenderAction != "" {
		if err := validateSenderAction(caps.Sends.SenderAction, msg.SenderAction); err != nil {
			return err
		}
	}
	return nil
}

func validateSendAttachment(caps SendAttachmentCapabilities, kind AttachmentType) error {
	supported := false
	switch kind {
	case AttachmentTypeAudio:
		supported = caps.Audio
	case AttachmentTypeFile:
		supported = caps.File
	case AttachmentTypeImage:
		supported = caps.Image
	case AttachmentTypeVideo:
		supported = caps.Video
	default:
		return newConfigurationError(fmt.Sprintf("platform does not support sending attachment type %s", kind))
	}
	if !supported {
		return newConfigurationError(fmt.Sprintf("platform does not support sending attachment type %s", kind))
	}
	return nil
}

func validateSenderAction(caps SenderActionCapabilities, action SenderAction) error {
	supported := false
	switch action {
	case SenderActionTypingOn:
		supported = caps.TypingOn
	case SenderActionTypingOff:
		supported = caps.TypingOff
	case SenderActionMarkSeen:
		supported = caps.MarkSeen
	default:
		return newConfigurationError(fmt.Sprintf("platform does not support sender action %s", action))
	}
	if !supported {
		return newConfigurationError(fmt.Sprintf("platform does not support sender action %s", action))
	}
	return nil
}
