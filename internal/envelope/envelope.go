// ABOUTME: Validated envelope for inbound realtime broadcast frames
// ABOUTME: Tagged by broadcast event name; schema mismatches fail closed

// Package envelope decodes and validates inbound broadcast payloads at the
// transport boundary. Transports hand it the broadcast event name and the raw
// JSON payload; anything that is not a known, well-formed envelope is
// rejected so the caller can drop and log it.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/2389/resale-inbox/internal/inbox"
)

// EventNewMessage is the broadcast event carrying a new message notification.
const EventNewMessage = "new_message"

// CurrentVersion is the only payload version understood. Payloads without a
// version are treated as version 1.
const CurrentVersion = 1

var (
	// ErrUnknownEvent is returned for broadcast events with no envelope.
	ErrUnknownEvent = errors.New("unknown broadcast event")
	// ErrInvalidPayload is returned when a payload fails decoding or validation.
	ErrInvalidPayload = errors.New("invalid broadcast payload")
)

// NewMessage is the payload of a new_message broadcast.
type NewMessage struct {
	Version        int               `json:"version" validate:"omitempty,eq=1"`
	ConversationID string            `json:"conversation_id" validate:"required"`
	ForUser        string            `json:"for_user"`
	Message        *inbox.MessageRow `json:"message" validate:"omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses the payload of the named broadcast event.
func Decode(event string, payload []byte) (NewMessage, error) {
	switch event {
	case EventNewMessage:
		return decodeNewMessage(payload)
	default:
		return NewMessage{}, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

func decodeNewMessage(payload []byte) (NewMessage, error) {
	var msg NewMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return NewMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := validate.Struct(msg); err != nil {
		return NewMessage{}, fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))
	}
	if msg.Version == 0 {
		msg.Version = CurrentVersion
	}
	return msg, nil
}

// Encode builds a new_message payload. Used by publishers in this module.
func Encode(msg NewMessage) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = CurrentVersion
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))
	}
	return json.Marshal(msg)
}

// describe flattens validator errors into "field:tag" pairs.
func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	out := ""
	for i, fe := range ve {
		if i > 0 {
			out += ", "
		}
		out += fe.Namespace() + ":" + fe.Tag()
	}
	return out
}
