package client

import (
	"errors"
	"fmt"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
)

var (
	// ErrClosed is returned by operations on a closed channel or connection.
	ErrClosed = errors.New("otterclient: closed")
	// ErrRolledBack is returned by PublishHandle.Wait for a publish discarded by Rollback.
	ErrRolledBack = errors.New("otterclient: publish rolled back")
)

// TransportError is a failure of the underlying transport. It is always fatal
// to the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectionError reports a failed handshake or a broker connection.close.
type ConnectionError struct {
	Code   uint16
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Err != nil && e.Code != 0:
		return fmt.Sprintf("connection error %d (%s): %v", e.Code, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("connection error: %v", e.Err)
	}
	return fmt.Sprintf("connection closed by broker: %d %s", e.Code, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a broker rejection of an operation on one channel.
type ProtocolError struct {
	Channel  uint16
	Code     uint16
	Reason   string
	ClassID  uint16
	MethodID uint16
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("channel %d: %s (%s)", e.Channel, amqp.ReplyCode(e.Code).Format(e.Reason),
		amqp.MethodName(e.ClassID, e.MethodID))
}

func (e *ProtocolError) Unwrap() error {
	return amqperrors.NewChannelError(e.Reason, e.Code, e.ClassID, e.MethodID)
}

// DeclarationError is a topology declaration or binding refused by the broker
// or by client-side validation. Code carries the reply code.
type DeclarationError struct {
	Channel  uint16
	Name     string
	Code     uint16
	Reason   string
	ClassID  uint16
	MethodID uint16
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("declare %q on channel %d: %s", e.Name, e.Channel, amqp.ReplyCode(e.Code).Format(e.Reason))
}

func (e *DeclarationError) Unwrap() error {
	return amqperrors.NewChannelError(e.Reason, e.Code, e.ClassID, e.MethodID)
}

// ModeConflictError is returned when a channel mode is selected twice or
// transactional and confirm mode are mixed.
type ModeConflictError struct {
	Channel   uint16
	Current   Mode
	Requested string
}

func (e *ModeConflictError) Error() string {
	return fmt.Sprintf("channel %d: cannot %s in %s mode", e.Channel, e.Requested, e.Current)
}

// PublishRejectedError lists the sequence numbers the broker nacked.
type PublishRejectedError struct {
	Sequences []uint64
}

func (e *PublishRejectedError) Error() string {
	if len(e.Sequences) == 1 {
		return fmt.Sprintf("publish %d rejected by broker", e.Sequences[0])
	}
	return fmt.Sprintf("%d publishes rejected by broker: %v", len(e.Sequences), e.Sequences)
}

// UnknownDeliveryTagError is returned for an ack, nack or reject of a tag that
// is not awaiting acknowledgement.
type UnknownDeliveryTagError struct {
	Channel     uint16
	DeliveryTag uint64
}

func (e *UnknownDeliveryTagError) Error() string {
	return fmt.Sprintf("channel %d: unknown delivery tag %d", e.Channel, e.DeliveryTag)
}

// TimeoutError is a bounded wait that elapsed. Err is the context error.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ChannelAllocationError is returned when no channel id is available.
type ChannelAllocationError struct {
	Err error
}

func (e *ChannelAllocationError) Error() string {
	return fmt.Sprintf("channel allocation failed: %v", e.Err)
}

func (e *ChannelAllocationError) Unwrap() error { return e.Err }

// AbandonedError reports publishes whose outcome is unknown because their
// channel closed first. Cause is the close reason.
type AbandonedError struct {
	Sequences []uint64
	Cause     error
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("%d publishes abandoned: %v", len(e.Sequences), e.Cause)
}

func (e *AbandonedError) Unwrap() error { return e.Cause }
