// Package testutil provides FakeBroker, an in-memory transport that plays the
// broker side of AMQP 0-9-1 for client tests.
package testutil

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
)

// ErrChannelsExhausted is returned by OpenChannel when every id is taken.
var ErrChannelsExhausted = errors.New("no free channel ids")

// FakeBroker implements the client Transport interface. Every frame the
// client sends is handled synchronously under one lock; replies are queued
// for Receive, so tests are deterministic.
type FakeBroker struct {
	mu   sync.Mutex
	cond *sync.Cond

	outbox     [][]byte
	closed     bool
	recvErr    error
	sendErr    error
	frameMax   uint32
	channelMax uint16
	allocated  map[uint16]bool

	manualConfirms bool
	holdReplies    bool
	held           [][]byte
	nameSeq        int

	exchanges map[string]*exchange
	queues    map[string]*queue
	channels  map[uint16]*channelState
	received  []amqp.MethodFrame
}

type Option func(*FakeBroker)

// WithChannelMax limits the channel ids handed out by OpenChannel.
func WithChannelMax(n uint16) Option {
	return func(b *FakeBroker) { b.channelMax = n }
}

// WithFrameMax makes the broker report a negotiated frame-max.
func WithFrameMax(n uint32) Option {
	return func(b *FakeBroker) { b.frameMax = n }
}

// WithManualConfirms stops automatic publisher confirms; tests send them
// with Confirm.
func WithManualConfirms() Option {
	return func(b *FakeBroker) { b.manualConfirms = true }
}

func NewFakeBroker(opts ...Option) *FakeBroker {
	b := &FakeBroker{
		channelMax: 2047,
		allocated:  make(map[uint16]bool),
		exchanges:  make(map[string]*exchange),
		queues:     make(map[string]*queue),
		channels:   make(map[uint16]*channelState),
	}
	b.cond = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	for _, e := range []struct{ name, kind string }{
		{"", amqp.EXCHANGE_DIRECT},
		{"amq.direct", amqp.EXCHANGE_DIRECT},
		{"amq.fanout", amqp.EXCHANGE_FANOUT},
		{"amq.topic", amqp.EXCHANGE_TOPIC},
		{"amq.headers", amqp.EXCHANGE_HEADERS},
	} {
		b.exchanges[e.name] = newExchange(e.name, e.kind, true, false, false)
	}
	return b
}

func (b *FakeBroker) OpenChannel() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := uint16(1); id <= b.channelMax && id != 0; id++ {
		if !b.allocated[id] {
			b.allocated[id] = true
			return id, nil
		}
	}
	return 0, ErrChannelsExhausted
}

func (b *FakeBroker) ReleaseChannel(id uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.allocated, id)
}

func (b *FakeBroker) FrameMax() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameMax
}

func (b *FakeBroker) Send(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return io.ErrClosedPipe
	}
	if b.sendErr != nil {
		return b.sendErr
	}
	parsed, err := amqp.ParseFrame(frame)
	if err != nil {
		return fmt.Errorf("fake broker: %w", err)
	}
	b.handleFrame(parsed)
	return nil
}

func (b *FakeBroker) Receive() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.outbox) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.outbox) > 0 {
		frame := b.outbox[0]
		b.outbox = b.outbox[1:]
		return frame, nil
	}
	if b.recvErr != nil {
		return nil, b.recvErr
	}
	return nil, io.EOF
}

func (b *FakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// Disconnect simulates a transport failure: Receive returns err once queued
// frames are drained and Send fails.
func (b *FakeBroker) Disconnect(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recvErr = err
	b.closed = true
	b.cond.Broadcast()
}

// FailSends makes every later Send return err.
func (b *FakeBroker) FailSends(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// HoldReplies withholds every synchronous reply until ReleaseReplies.
func (b *FakeBroker) HoldReplies(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdReplies = hold
}

// ReleaseReplies delivers the withheld replies in order.
func (b *FakeBroker) ReleaseReplies() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdReplies = false
	held := b.held
	b.held = nil
	for _, f := range held {
		b.push(f)
	}
}

// Inject queues a raw frame for the client.
func (b *FakeBroker) Inject(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(frame)
}

// Confirm sends a basic.ack or basic.nack for a confirm-mode channel.
func (b *FakeBroker) Confirm(channel uint16, tag uint64, multiple, ack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendConfirm(channel, tag, multiple, ack)
}

// CloseChannel closes a channel from the broker side.
func (b *FakeBroker) CloseChannel(channel uint16, code amqp.ReplyCode, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeChannel(channel, amqperrors.NewChannelError(text, uint16(code), 0, 0))
}

// CloseConnection sends connection.close.
func (b *FakeBroker) CloseConnection(code amqp.ReplyCode, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushMethod(0, &amqp.ConnectionCloseMessage{ReplyCode: uint16(code), ReplyText: text})
}

// Flow sends channel.flow.
func (b *FakeBroker) Flow(channel uint16, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushMethod(channel, &amqp.ChannelFlowMessage{Active: active})
}

// CancelConsumer cancels a consumer from the broker side.
func (b *FakeBroker) CancelConsumer(channel uint16, tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch := b.channels[channel]; ch != nil {
		b.removeConsumer(ch, tag)
	}
	b.pushMethod(channel, &amqp.BasicCancelContent{ConsumerTag: tag})
}

// Received lists the methods the client sent on channel, in order.
func (b *FakeBroker) Received(channel uint16) []amqp.Method {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []amqp.Method
	for _, f := range b.received {
		if f.Channel == channel {
			out = append(out, f.Method)
		}
	}
	return out
}

// QueueDepth is the number of ready messages in a queue, -1 if it is missing.
func (b *FakeBroker) QueueDepth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[name]
	if q == nil {
		return -1
	}
	return len(q.messages)
}

// Unacked is the number of deliveries the broker awaits an ack for.
func (b *FakeBroker) Unacked(channel uint16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch := b.channels[channel]; ch != nil {
		return len(ch.unacked)
	}
	return 0
}

// Enqueue puts a message straight onto a queue.
func (b *FakeBroker) Enqueue(queueName string, body []byte, props amqp.BasicProperties) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queueName]
	if q == nil {
		return fmt.Errorf("no queue '%s'", queueName)
	}
	q.messages = append(q.messages, message{routingKey: queueName, props: props, body: body})
	b.dispatch(q)
	return nil
}

func (b *FakeBroker) push(frame []byte) {
	b.outbox = append(b.outbox, frame)
	b.cond.Broadcast()
}

func (b *FakeBroker) pushMethod(channel uint16, m amqp.Method) {
	b.push(amqp.CreateMethodFrame(channel, m))
}

// reply queues a synchronous reply, or holds it.
func (b *FakeBroker) reply(channel uint16, m amqp.Method) {
	frame := amqp.CreateMethodFrame(channel, m)
	if b.holdReplies {
		b.held = append(b.held, frame)
		return
	}
	b.push(frame)
}

func (b *FakeBroker) pushContent(channel uint16, m amqp.Method, msg message) {
	frames, err := amqp.CreateContentFrames(channel, m, amqp.Message{Body: msg.body, Properties: msg.props}, b.frameMax)
	if err != nil {
		panic(err)
	}
	for _, f := range frames {
		b.push(f)
	}
}
