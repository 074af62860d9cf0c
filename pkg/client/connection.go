package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type connState int

const (
	connOpen connState = iota
	connClosing
	connClosed
)

// Connection owns one Transport and the channels multiplexed over it. A
// single receive loop reads frames and hands each one to its channel.
type Connection struct {
	transport Transport
	opts      Options

	mu       sync.Mutex
	state    connState
	err      error
	channels map[uint16]*Channel

	done       chan struct{}
	doneOnce   sync.Once
	closeOnce  sync.Once
	closeOk    chan struct{}
	readerDone chan struct{}
}

// Open dials a transport and starts a Connection on it. Any dial or
// handshake failure is reported as *ConnectionError.
func Open(ctx context.Context, dial Dialer, opts ...Option) (*Connection, error) {
	t, err := dial(ctx)
	if err != nil {
		var ce *ConnectionError
		if errors.As(err, &ce) {
			return nil, err
		}
		var reply amqperrors.AMQPError
		if errors.As(err, &reply) {
			return nil, &ConnectionError{Code: reply.ReplyCode(), Reason: reply.ReplyText(), Err: err}
		}
		return nil, &ConnectionError{Err: err}
	}
	return NewConnection(t, opts...), nil
}

// NewConnection adopts an already negotiated transport.
func NewConnection(t Transport, opts ...Option) *Connection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Connection{
		transport:  t,
		opts:       o,
		channels:   make(map[uint16]*Channel),
		done:       make(chan struct{}),
		closeOk:    make(chan struct{}, 1),
		readerDone: make(chan struct{}),
	}
	o.Metrics.RecordConnectionOpen()
	go c.readLoop()
	return c
}

// OpenChannel allocates a channel id and opens a channel on it.
func (c *Connection) OpenChannel(ctx context.Context) (*Channel, error) {
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return nil, c.closedErr()
	}
	c.mu.Unlock()

	id, err := c.transport.OpenChannel()
	if err != nil {
		return nil, &ChannelAllocationError{Err: err}
	}

	ch := newChannel(c, id)
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		c.transport.ReleaseChannel(id)
		return nil, c.closedErr()
	}
	c.channels[id] = ch
	c.mu.Unlock()
	c.opts.Metrics.RecordChannelOpen(id)
	go ch.events.run()

	if _, err := ch.call(ctx, request{
		op:     "channel.open",
		method: &amqp.ChannelOpenMessage{},
		expect: []amqp.Method{&amqp.ChannelOpenOkMessage{}},
	}); err != nil {
		ch.shutdown(err)
		return nil, err
	}

	log.Debug().Uint16("channel", id).Msg("Channel opened")
	return ch, nil
}

// Close closes every channel, performs the connection.close handshake and
// closes the transport. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.close() })
	return err
}

func (c *Connection) close() error {
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = connClosing
	channels := c.snapshotChannels()
	c.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(ErrClosed)
	}

	var errs error
	closeFrame := c.opts.Framer.CreateMethodFrame(0, &amqp.ConnectionCloseMessage{
		ReplyCode: uint16(amqp.REPLY_SUCCESS),
		ReplyText: "Goodbye",
	})
	if err := c.transport.Send(closeFrame); err != nil {
		errs = multierr.Append(errs, &TransportError{Op: "send", Err: err})
	} else {
		timer := time.NewTimer(c.opts.CloseTimeout)
		select {
		case <-c.closeOk:
		case <-c.readerDone:
		case <-timer.C:
			errs = multierr.Append(errs, &TimeoutError{Op: "connection.close", Err: context.DeadlineExceeded})
		}
		timer.Stop()
	}

	c.mu.Lock()
	c.state = connClosed
	c.err = ErrClosed
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		errs = multierr.Append(errs, &TransportError{Op: "close", Err: err})
	}
	c.finish()
	log.Debug().Msg("Connection closed")
	return errs
}

// fail tears the connection down without a handshake.
func (c *Connection) fail(cause error) {
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return
	}
	c.state = connClosed
	c.err = cause
	channels := c.snapshotChannels()
	c.mu.Unlock()

	log.Error().Err(cause).Int("channels", len(channels)).Msg("Connection failed")
	for _, ch := range channels {
		ch.shutdown(cause)
	}
	_ = c.transport.Close()
	c.finish()
}

func (c *Connection) finish() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.opts.Metrics.RecordConnectionClose()
	})
}

// Done is closed when the connection is closed or has failed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err is nil while open, ErrClosed after Close, or the failure cause.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Channels lists the ids of open channels in ascending order.
func (c *Connection) Channels() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint16, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Connection) closedErr() error {
	if c.err == nil || c.err == ErrClosed {
		return ErrClosed
	}
	return closedBy(c.err)
}

func (c *Connection) snapshotChannels() []*Channel {
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (c *Connection) releaseChannel(ch *Channel) {
	c.mu.Lock()
	if c.channels[ch.id] == ch {
		delete(c.channels, ch.id)
	}
	c.mu.Unlock()
	c.transport.ReleaseChannel(ch.id)
}

func (c *Connection) send(frame []byte) error {
	if err := c.transport.Send(frame); err != nil {
		terr := &TransportError{Op: "send", Err: err}
		c.fail(terr)
		return terr
	}
	return nil
}

func (c *Connection) frameMax() uint32 {
	if fm, ok := c.transport.(frameMaxer); ok && fm.FrameMax() > 0 {
		return fm.FrameMax()
	}
	return c.opts.FrameMax
}

func (c *Connection) readLoop() {
	defer close(c.readerDone)
	for {
		raw, err := c.transport.Receive()
		if err != nil {
			c.fail(&TransportError{Op: "receive", Err: err})
			return
		}
		frame, err := c.opts.Framer.ParseFrame(raw)
		if err != nil {
			c.fail(&TransportError{Op: "decode", Err: err})
			return
		}

		var channel uint16
		switch f := frame.(type) {
		case *amqp.Heartbeat:
			continue
		case *amqp.MethodFrame:
			if f.Channel == 0 {
				if stop := c.handleConnectionMethod(f.Method); stop {
					return
				}
				continue
			}
			channel = f.Channel
		case *amqp.HeaderFrame:
			channel = f.Channel
		case *amqp.BodyFrame:
			channel = f.Channel
		}

		c.mu.Lock()
		ch := c.channels[channel]
		c.mu.Unlock()
		if ch == nil {
			log.Warn().Uint16("channel", channel).Msg("Dropping frame for unknown channel")
			continue
		}
		ch.handleFrame(frame)
	}
}

// handleConnectionMethod reports whether the loop must stop.
func (c *Connection) handleConnectionMethod(m amqp.Method) bool {
	switch msg := m.(type) {
	case *amqp.ConnectionCloseMessage:
		log.Warn().Uint16("reply_code", msg.ReplyCode).Str("reply_text", msg.ReplyText).Msg("Connection closed by broker")
		_ = c.transport.Send(c.opts.Framer.CreateMethodFrame(0, &amqp.ConnectionCloseOkMessage{}))
		c.fail(&ConnectionError{Code: msg.ReplyCode, Reason: msg.ReplyText})
		return true
	case *amqp.ConnectionCloseOkMessage:
		select {
		case c.closeOk <- struct{}{}:
		default:
		}
		return false
	}
	classID, methodID := m.ClassMethod()
	log.Warn().Str("method", amqp.MethodName(classID, methodID)).Msg("Ignoring unexpected connection method")
	return false
}
