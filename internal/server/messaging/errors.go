package messaging

import (
	"errors"
	"fmt"
)

// MessageSendingError is returned when a message could not be handed to the
// transport. The data change that triggered it has already been persisted.
type MessageSendingError struct {
	MessageType MessageType
	Recipient   string
	Err         error
}

func (e *MessageSendingError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.MessageType, e.Recipient, e.Err)
}

func (e *MessageSendingError) Unwrap() error {
	return e.Err
}

// IsMessageSendingError reports whether err is, or wraps, a MessageSendingError.
func IsMessageSendingError(err error) bool {
	var sendErr *MessageSendingError
	return errors.As(err, &sendErr)
}

// ErrReject marks an inbound message that must not be redelivered: it is
// malformed, unroutable or addressed to someone else.
var ErrReject = errors.New("message rejected")

// Reject wraps err so that the consumer commits the message instead of
// retrying it.
func Reject(err error) error {
	return fmt.Errorf("%w: %w", ErrReject, err)
}
