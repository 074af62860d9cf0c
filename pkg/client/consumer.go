package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/rs/zerolog/log"
)

// Consumer receives messages on one Channel, by subscription (push) or by
// polling (pull), and tracks the delivery tags awaiting acknowledgement.
type Consumer struct {
	ch *Channel
}

func NewConsumer(ch *Channel) *Consumer {
	return &Consumer{ch: ch}
}

func (c *Consumer) Channel() *Channel { return c.ch }

// Subscription is a registered consumer.
type Subscription struct {
	ch      *Channel
	tag     string
	queue   string
	noAck   bool
	handler DeliveryHandler

	once      sync.Once
	cancelled chan struct{}
}

func (s *Subscription) ConsumerTag() string { return s.tag }
func (s *Subscription) Queue() string       { return s.queue }

// Done is closed once the subscription is cancelled by either side or its
// channel closes.
func (s *Subscription) Done() <-chan struct{} { return s.cancelled }

func (s *Subscription) markCancelled() {
	s.once.Do(func() { close(s.cancelled) })
}

// Cancel stops the subscription. Deliveries already received stay in the
// awaiting set.
func (s *Subscription) Cancel(ctx context.Context) error {
	select {
	case <-s.cancelled:
		return nil
	default:
	}
	_, err := s.ch.call(ctx, request{
		op:     "basic.cancel",
		method: &amqp.BasicCancelContent{ConsumerTag: s.tag},
		expect: []amqp.Method{&amqp.BasicCancelOkContent{}},
	})
	if err != nil {
		return err
	}
	s.ch.mu.Lock()
	if s.ch.consumers[s.tag] == s {
		delete(s.ch.consumers, s.tag)
	}
	s.ch.mu.Unlock()
	s.markCancelled()
	log.Debug().Uint16("channel", s.ch.id).Str("consumer_tag", s.tag).Msg("Consumer cancelled")
	return nil
}

// Consume registers handler for deliveries from queue. The handler is called
// on the channel's dispatcher, one delivery at a time in broker order. With
// noAck unset each delivery is awaiting acknowledgement before the handler
// sees it. An empty consumerTag is replaced by a generated one.
func (c *Consumer) Consume(ctx context.Context, queue, consumerTag string, noLocal, noAck, exclusive, noWait bool, handler DeliveryHandler, args Table) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("consume: nil delivery handler")
	}
	if err := args.Validate(); err != nil {
		return nil, fmt.Errorf("consume: invalid arguments: %w", err)
	}
	if consumerTag == "" {
		consumerTag = "ctag-" + uuid.NewString()
	}
	ch := c.ch
	sub := &Subscription{
		ch:        ch,
		tag:       consumerTag,
		queue:     queue,
		noAck:     noAck,
		handler:   handler,
		cancelled: make(chan struct{}),
	}
	method := &amqp.BasicConsumeContent{
		Queue:       queue,
		ConsumerTag: consumerTag,
		NoLocal:     noLocal,
		NoAck:       noAck,
		Exclusive:   exclusive,
		NoWait:      noWait,
		Arguments:   args,
	}
	register := func() error {
		if _, exists := ch.consumers[consumerTag]; exists {
			return &ProtocolError{
				Channel:  ch.id,
				Code:     uint16(amqp.NOT_ALLOWED),
				Reason:   fmt.Sprintf("attempt to reuse consumer tag '%s'", consumerTag),
				ClassID:  uint16(amqp.BASIC),
				MethodID: uint16(amqp.BASIC_CONSUME),
			}
		}
		ch.consumers[consumerTag] = sub
		return nil
	}

	if noWait {
		if err := c.registerNoWait(method, register); err != nil {
			return nil, err
		}
	} else if _, err := ch.call(ctx, request{
		op:     "basic.consume",
		method: method,
		expect: []amqp.Method{&amqp.BasicConsumeOkContent{}},
		before: register,
	}); err != nil {
		ch.mu.Lock()
		if ch.consumers[consumerTag] == sub {
			delete(ch.consumers, consumerTag)
		}
		ch.mu.Unlock()
		return nil, err
	}

	log.Debug().Uint16("channel", ch.id).Str("queue", queue).Str("consumer_tag", consumerTag).Bool("no_ack", noAck).Msg("Consumer started")
	return sub, nil
}

func (c *Consumer) registerNoWait(method amqp.Method, register func() error) error {
	ch := c.ch
	frame := ch.opts.Framer.CreateMethodFrame(ch.id, method)
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	ch.mu.Lock()
	if ch.state != chOpen {
		err := ch.closedErr()
		ch.mu.Unlock()
		return err
	}
	err := register()
	ch.mu.Unlock()
	if err != nil {
		return err
	}
	return ch.conn.send(frame)
}

// Get polls queue for one message. It returns immediately with ok false when
// the queue is empty.
func (c *Consumer) Get(ctx context.Context, queue string, noAck bool) (d *Delivery, ok bool, err error) {
	r, err := c.ch.call(ctx, request{
		op:     "basic.get",
		method: &amqp.BasicGetContent{Queue: queue, NoAck: noAck},
		expect: []amqp.Method{&amqp.BasicGetOkContent{}, &amqp.BasicGetEmptyContent{}},
		track:  !noAck,
	})
	if err != nil {
		return nil, false, err
	}
	if r.delivery == nil {
		return nil, false, nil
	}
	c.ch.opts.Metrics.RecordDelivery(noAck)
	return r.delivery, true, nil
}

// Ack acknowledges exactly one delivery tag.
func (c *Consumer) Ack(deliveryTag uint64) error {
	return c.ch.ack(deliveryTag, false)
}

// AckMultiple acknowledges every outstanding tag up to and including
// deliveryTag; zero means all.
func (c *Consumer) AckMultiple(deliveryTag uint64) error {
	return c.ch.ack(deliveryTag, true)
}

// Reject resolves exactly one delivery tag. With requeue the broker
// redelivers the message, otherwise it is discarded or dead-lettered.
func (c *Consumer) Reject(deliveryTag uint64, requeue bool) error {
	return c.ch.reject(deliveryTag, requeue)
}

// Nack is Reject generalised: with multiple it resolves every outstanding
// tag up to and including deliveryTag, zero meaning all.
func (c *Consumer) Nack(deliveryTag uint64, multiple, requeue bool) error {
	return c.ch.nack(deliveryTag, multiple, requeue)
}

// Recover asks the broker to redeliver every unacknowledged message. The
// awaiting set is cleared once the broker confirms.
func (c *Consumer) Recover(ctx context.Context, requeue bool) error {
	ch := c.ch
	if _, err := ch.call(ctx, request{
		op:     "basic.recover",
		method: &amqp.BasicRecoverContent{Requeue: requeue},
		expect: []amqp.Method{&amqp.BasicRecoverOkContent{}},
	}); err != nil {
		return err
	}
	ch.mu.Lock()
	n := len(ch.awaiting)
	ch.awaiting = make(map[uint64]*Delivery)
	ch.mu.Unlock()
	ch.opts.Metrics.SetAwaitingAcks(ch.id, 0)
	log.Debug().Uint16("channel", ch.id).Int("released", n).Bool("requeue", requeue).Msg("Recovered unacknowledged deliveries")
	return nil
}

// Wait blocks until the channel dispatches its next event.
func (c *Consumer) Wait(ctx context.Context) error { return c.ch.Wait(ctx) }

func (c *Consumer) SetQos(ctx context.Context, prefetchSize uint32, prefetchCount uint16, global bool) error {
	return c.ch.SetQos(ctx, prefetchSize, prefetchCount, global)
}

func (c *Consumer) SetCancelHandler(h CancelHandler) {
	c.ch.mu.Lock()
	c.ch.cancelHandler = h
	c.ch.mu.Unlock()
}

// Outstanding lists the delivery tags awaiting acknowledgement, ascending.
func (c *Consumer) Outstanding() []uint64 {
	c.ch.mu.Lock()
	defer c.ch.mu.Unlock()
	tags := make([]uint64, 0, len(c.ch.awaiting))
	for t := range c.ch.awaiting {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Abandoned lists deliveries left unacknowledged when the channel closed.
func (c *Consumer) Abandoned() []*Delivery {
	c.ch.mu.Lock()
	defer c.ch.mu.Unlock()
	out := make([]*Delivery, len(c.ch.abandoned))
	copy(out, c.ch.abandoned)
	return out
}
