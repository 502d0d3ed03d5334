package bot

import "context"

// CascadeMessage describes one step of a cascade send. Exactly one
// field group is dispatched per step, selected by the first set field
// in this precedence order: Raw, Message, Buttons, Attachment, Text,
// IsTyping.
type CascadeMessage struct {
	// Raw is handed straight to the transport.
	Raw any
	// Message is a prebuilt outgoing message sent as-is.
	Message *OutgoingMessage
	// Buttons become a button message. Text or Attachment, but not
	// both, may accompany them as the caption.
	Buttons []string
	// Attachment is sent to recipientID as an attachment message.
	Attachment *Attachment
	// Text is sent to recipientID as a text message.
	Text string
	// IsTyping sends a typing-on sender action.
	IsTyping bool
}

// cascadeSender is the dispatch surface a cascade needs: the shared
// send pipeline plus the raw bypass.
type cascadeSender interface {
	messageSender
	SendRaw(ctx context.Context, raw any) (any, error)
}

// sendCascadeTo dispatches the messages strictly in order, one send at
// a time; a step is not started until the previous one resolved, so
// the platform observes the conversation in input order. The first
// failure aborts the cascade: remaining steps are not attempted and
// results accumulated so far are discarded. OnComplete, when set,
// fires exactly once when the cascade resolves, with a nil result and
// the cascade error, if any; step results travel only through the
// return value.
func sendCascadeTo(ctx context.Context, s cascadeSender, messages []CascadeMessage, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	// The completion callback must observe the cascade outcome, so it
	// is withheld from the step sends and fired once here instead.
	stepOpts := opts.clone()
	stepOpts.OnComplete = nil
	results, err := dispatchCascade(ctx, s, messages, recipientID, stepOpts)
	if opts != nil && opts.OnComplete != nil {
		opts.OnComplete(nil, err)
	}
	return results, err
}

func dispatchCascade(ctx context.Context, s cascadeSender, messages []CascadeMessage, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	results := make([]*SendResult, 0, len(messages))
	for _, message := range messages {
		result, err := dispatchCascadeMessage(ctx, s, message, recipientID, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func dispatchCascadeMessage(ctx context.Context, s cascadeSender, message CascadeMessage, recipientID string, opts *SendOptions) (*SendResult, error) {
	switch {
	case message.Raw != nil:
		raw, err := s.SendRaw(ctx, message.Raw)
		if err != nil {
			return nil, err
		}
		return &SendResult{Raw: raw}, nil
	case message.Message != nil:
		return s.SendMessage(ctx, message.Message, opts)
	case len(message.Buttons) > 0:
		if message.Attachment != nil && message.Text != "" {
			return nil, &ValidationError{Reason: "use either one of text or attachment with buttons"}
		}
		var caption any
		if message.Attachment != nil {
			caption = message.Attachment
		} else if message.Text != "" {
			caption = message.Text
		}
		return sendDefaultButtonMessageTo(ctx, s, message.Buttons, caption, recipientID, opts)
	case message.Attachment != nil:
		return sendAttachmentTo(ctx, s, message.Attachment, recipientID, opts)
	case message.Text != "":
		return sendTextMessageTo(ctx, s, message.Text, recipientID, opts)
	case message.IsTyping:
		return sendIsTypingMessageTo(ctx, s, recipientID, opts)
	default:
		return nil, &ValidationError{Reason: "No valid message options specified"}
	}
}

// sendTextCascadeTo projects each string into a text-only cascade step
// and delegates to sendCascadeTo.
func sendTextCascadeTo(ctx context.Context, s cascadeSender, texts []string, recipientID string, opts *SendOptions) ([]*SendResult, error) {
	messages := make([]CascadeMessage, 0, len(texts))
	for _, text := range texts {
		messages = append(messages, CascadeMessage{Text: text})
	}
	return sendCascadeTo(ctx, s, messages, recipientID, opts)
}
