package client

import (
	"fmt"
	"time"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Table is an AMQP field table used for arguments and headers.
type Table = amqp091.Table

// Delivery modes for Properties.DeliveryMode.
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

// Properties are the basic content properties of a message.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}

func (p Properties) toBasic() amqp.BasicProperties {
	return amqp.BasicProperties{
		ContentType:     amqp.ContentType(p.ContentType),
		ContentEncoding: p.ContentEncoding,
		Headers:         p.Headers,
		DeliveryMode:    amqp.DeliveryMode(p.DeliveryMode),
		Priority:        p.Priority,
		CorrelationID:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageID:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserID:          p.UserID,
		AppID:           p.AppID,
	}
}

func propertiesFromBasic(b *amqp.BasicProperties) Properties {
	if b == nil {
		return Properties{}
	}
	return Properties{
		ContentType:     string(b.ContentType),
		ContentEncoding: b.ContentEncoding,
		Headers:         b.Headers,
		DeliveryMode:    uint8(b.DeliveryMode),
		Priority:        b.Priority,
		CorrelationID:   b.CorrelationID,
		ReplyTo:         b.ReplyTo,
		Expiration:      b.Expiration,
		MessageID:       b.MessageID,
		Timestamp:       b.Timestamp,
		Type:            b.Type,
		UserID:          b.UserID,
		AppID:           b.AppID,
	}
}

// Publishing is an outgoing message.
type Publishing struct {
	Properties Properties
	Body       []byte
}

// Delivery is a message received through a subscription or Get.
type Delivery struct {
	ConsumerTag  string
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32 // Get only
	Properties   Properties
	Body         []byte

	channel *Channel
}

func (d *Delivery) Ack() error {
	return d.channel.ack(d.DeliveryTag, false)
}

func (d *Delivery) Reject(requeue bool) error {
	return d.channel.reject(d.DeliveryTag, requeue)
}

func (d *Delivery) Nack(multiple, requeue bool) error {
	return d.channel.nack(d.DeliveryTag, multiple, requeue)
}

// Return is a mandatory or immediate publish the broker could not route.
type Return struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties Properties
	Body       []byte
}

// Mode is a channel's delivery-guarantee mode. It is set at most once.
type Mode int

const (
	ModeNone Mode = iota
	ModeTransactional
	ModeConfirm
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeTransactional:
		return "transactional"
	case ModeConfirm:
		return "confirm"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Outcome is the resolution state of a publish.
type Outcome int

const (
	OutcomePending Outcome = iota
	// OutcomeUnconfirmed is a publish on a channel in neither confirm nor
	// transactional mode; it is resolved as soon as it is sent.
	OutcomeUnconfirmed
	OutcomeAcked
	OutcomeNacked
	// OutcomeAbandoned means the channel closed before the broker resolved
	// the publish. Delivery cannot be assumed.
	OutcomeAbandoned
	OutcomeCommitted
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	case OutcomeAcked:
		return "acked"
	case OutcomeNacked:
		return "nacked"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Confirmation is one resolved publish as seen by confirm handlers.
type Confirmation struct {
	Sequence uint64
	Outcome  Outcome
}

// Qos is the last prefetch setting acknowledged by the broker.
type Qos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

// Handlers are invoked from the channel's dispatcher goroutine, one at a time
// and in arrival order. A handler must not call Wait on its own channel.

type DeliveryHandler interface {
	HandleDelivery(d *Delivery)
}

type DeliveryHandlerFunc func(d *Delivery)

func (f DeliveryHandlerFunc) HandleDelivery(d *Delivery) { f(d) }

type ReturnHandler interface {
	HandleReturn(r Return)
}

type ReturnHandlerFunc func(r Return)

func (f ReturnHandlerFunc) HandleReturn(r Return) { f(r) }

// ConfirmHandler is called once per resolved publish.
type ConfirmHandler interface {
	HandleConfirm(c Confirmation)
}

type ConfirmHandlerFunc func(c Confirmation)

func (f ConfirmHandlerFunc) HandleConfirm(c Confirmation) { f(c) }

// BatchConfirmHandler is called once per broker resolution frame with every
// publish it resolved, so a multiple ack arrives as one batch.
type BatchConfirmHandler interface {
	HandleConfirms(cs []Confirmation)
}

type BatchConfirmHandlerFunc func(cs []Confirmation)

func (f BatchConfirmHandlerFunc) HandleConfirms(cs []Confirmation) { f(cs) }

// CancelHandler is told about consumers cancelled by the broker.
type CancelHandler interface {
	HandleCancel(consumerTag string)
}

type CancelHandlerFunc func(consumerTag string)

func (f CancelHandlerFunc) HandleCancel(consumerTag string) { f(consumerTag) }
