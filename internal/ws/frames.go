package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"messaging-service/internal/errs"
)

const (
	FrameSendMessage = "send_message"
	FrameMarkRead    = "mark_read"
	FrameTyping      = "typing"
)

// Frame is a decoded inbound client frame. The set of implementations is closed.
type Frame interface {
	FrameType() string
}

type SendMessageFrame struct {
	ReceiverID int    `json:"receiver_id" validate:"gte=0"`
	GroupID    int    `json:"group_id" validate:"gte=0"`
	Content    string `json:"content" validate:"required"`
}

type MarkReadFrame struct {
	MessageID int `json:"message_id" validate:"required,gt=0"`
}

type TypingFrame struct {
	ReceiverID int  `json:"receiver_id" validate:"gte=0"`
	GroupID    int  `json:"group_id" validate:"gte=0"`
	IsTyping   bool `json:"is_typing"`
}

func (SendMessageFrame) FrameType() string { return FrameSendMessage }
func (MarkReadFrame) FrameType() string    { return FrameMarkRead }
func (TypingFrame) FrameType() string      { return FrameTyping }

var validate = validator.New()

type envelope struct {
	Type string `json:"type"`
}

// DecodeFrame parses and validates one inbound frame. Every failure is an
// InvalidInput error whose message is safe to echo to the client.
func DecodeFrame(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.Wrap(err, errs.KindInvalidInput, "malformed frame")
	}

	var (
		frame Frame
		err   error
	)
	switch env.Type {
	case FrameSendMessage:
		var f SendMessageFrame
		err = decodeInto(raw, &f)
		f.Content = strings.TrimSpace(f.Content)
		frame = f
		if err == nil {
			err = checkTarget(f.ReceiverID, f.GroupID)
		}
		if err == nil {
			err = validateFrame(f)
		}
	case FrameMarkRead:
		var f MarkReadFrame
		err = decodeInto(raw, &f)
		frame = f
		if err == nil {
			err = validateFrame(f)
		}
	case FrameTyping:
		var f TypingFrame
		err = decodeInto(raw, &f)
		frame = f
		if err == nil {
			err = checkTarget(f.ReceiverID, f.GroupID)
		}
		if err == nil {
			err = validateFrame(f)
		}
	case "":
		return nil, errs.InvalidInput("missing frame type")
	default:
		return nil, errs.InvalidInput(fmt.Sprintf("unknown frame type %q", env.Type))
	}
	if err != nil {
		return nil, err
	}
	return frame, nil
}

func decodeInto(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errs.Wrap(err, errs.KindInvalidInput, "malformed frame")
	}
	return nil
}

// receiver_id and group_id are mutually exclusive; neither means the session's
// bound group, resolved by the session.
func checkTarget(receiverID, groupID int) error {
	if receiverID != 0 && groupID != 0 {
		return errs.InvalidInput("receiver_id and group_id are mutually exclusive")
	}
	return nil
}

func validateFrame(frame Frame) error {
	if err := validate.Struct(frame); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			return errs.Wrap(err, errs.KindInvalidInput, fmt.Sprintf("invalid %s: %s", jsonName(field.Field()), field.Tag()))
		}
		return errs.Wrap(err, errs.KindInvalidInput, "invalid frame")
	}
	return nil
}

func jsonName(field string) string {
	switch field {
	case "ReceiverID":
		return "receiver_id"
	case "GroupID":
		return "group_id"
	case "MessageID":
		return "message_id"
	case "Content":
		return "content"
	default:
		return strings.ToLower(field)
	}
}
