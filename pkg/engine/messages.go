package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned for control messages with an unknown type.
var ErrUnknownMessage = errors.New("unknown message type")

// MessageType names a control command.
type MessageType string

const (
	// MessageSkipWaiting forces activation.
	MessageSkipWaiting MessageType = "SKIP_WAITING"

	// MessageClearAPICache deletes the API store.
	MessageClearAPICache MessageType = "CLEAR_API_CACHE"
)

// Message is a control command delivered outside the request path.
type Message struct {
	Type MessageType `json:"type"`
}

// HandleMessage executes a control command.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) error {
	e.logger.Info().Str("type", string(msg.Type)).Msg("Control message received")

	switch msg.Type {
	case MessageSkipWaiting:
		return e.SkipWaiting(ctx)
	case MessageClearAPICache:
		return e.ClearAPICache(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}
