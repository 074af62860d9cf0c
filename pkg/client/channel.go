package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/ottermq/otterclient/pkg/metrics"
	"github.com/rs/zerolog/log"
)

type chState int

const (
	chOpen chState = iota
	chClosing
	chClosed
)

// Channel is a logical stream over a Connection and the unit of failure
// isolation. All protocol state lives here: the publish sequence counter,
// the pending confirms, the deliveries awaiting acknowledgement and the
// outstanding synchronous requests.
//
// Frames are handled by the connection's receive loop under mu; user
// callbacks run on the channel's dispatcher.
type Channel struct {
	id     uint16
	conn   *Connection
	opts   Options
	events *dispatcher
	done   chan struct{}

	// sendMu orders sequence assignment, request queuing and frame emission.
	sendMu sync.Mutex
	// txMu serialises commit and rollback round trips.
	txMu sync.Mutex

	mu          sync.Mutex
	state       chState
	err         error
	mode        Mode
	qos         Qos
	flowActive  bool
	flowResumed chan struct{}
	nextSeq     uint64
	confirmBase uint64
	tracker     *ConfirmTracker
	txPubs      []*PublishHandle
	txAcks      []*Delivery
	awaiting    map[uint64]*Delivery
	abandoned   []*Delivery
	consumers   map[string]*Subscription
	calls       []*rpcCall

	returnHandler       ReturnHandler
	confirmHandler      ConfirmHandler
	batchConfirmHandler BatchConfirmHandler
	cancelHandler       CancelHandler

	// content is the message being assembled; receive loop only.
	content *incoming
}

type incoming struct {
	method     amqp.Method
	props      *amqp.BasicProperties
	size       uint64
	body       []byte
	haveHeader bool
}

type request struct {
	op     string
	method amqp.Method
	expect []amqp.Method
	// entity names the exchange or queue of a topology request; a broker
	// close in reply becomes a DeclarationError.
	entity      string
	declaration bool
	// track adds a get-ok delivery to the awaiting set.
	track bool
	// closing allows the request while the channel is closing.
	closing bool
	// before runs under sendMu and mu just before the frame is sent.
	before func() error
}

type rpcCall struct {
	op          string
	expect      []uint32
	entity      string
	declaration bool
	track       bool
	abandoned   bool
	reply       chan rpcReply
}

type rpcReply struct {
	method   amqp.Method
	delivery *Delivery
	err      error
}

func methodKey(m amqp.Method) uint32 {
	classID, methodID := m.ClassMethod()
	return uint32(classID)<<16 | uint32(methodID)
}

func closedBy(cause error) error {
	return fmt.Errorf("%w: %w", ErrClosed, cause)
}

func newChannel(conn *Connection, id uint16) *Channel {
	resumed := make(chan struct{})
	close(resumed)
	return &Channel{
		id:          id,
		conn:        conn,
		opts:        conn.opts,
		events:      newDispatcher(),
		done:        make(chan struct{}),
		flowActive:  true,
		flowResumed: resumed,
		nextSeq:     1,
		tracker:     NewConfirmTracker(),
		awaiting:    make(map[uint64]*Delivery),
		consumers:   make(map[string]*Subscription),
	}
}

func (ch *Channel) ID() uint16 { return ch.id }

func (ch *Channel) Mode() Mode {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.mode
}

func (ch *Channel) Qos() Qos {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.qos
}

// FlowActive reports whether the broker currently allows publishing.
func (ch *Channel) FlowActive() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.flowActive
}

// Done is closed when the channel is closed.
func (ch *Channel) Done() <-chan struct{} { return ch.done }

// Err is nil while open, ErrClosed after Close, or the cause of failure.
func (ch *Channel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

// closedErr must be called with mu held.
func (ch *Channel) closedErr() error {
	if ch.err == nil || ch.err == ErrClosed {
		return ErrClosed
	}
	return closedBy(ch.err)
}

// SetQos configures prefetch. With global set the limit applies to all
// consumers on the channel, otherwise to consumers started afterwards.
func (ch *Channel) SetQos(ctx context.Context, prefetchSize uint32, prefetchCount uint16, global bool) error {
	_, err := ch.call(ctx, request{
		op:     "basic.qos",
		method: &amqp.BasicQosContent{PrefetchSize: prefetchSize, PrefetchCount: prefetchCount, Global: global},
		expect: []amqp.Method{&amqp.BasicQosOkContent{}},
	})
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.qos = Qos{PrefetchSize: prefetchSize, PrefetchCount: prefetchCount, Global: global}
	ch.mu.Unlock()
	log.Debug().Uint16("channel", ch.id).Uint16("prefetch_count", prefetchCount).Bool("global", global).Msg("QoS set")
	return nil
}

// SelectConfirms puts the channel in confirm mode. Every later publish is
// resolved exactly once: acked, nacked, or abandoned on close.
func (ch *Channel) SelectConfirms(ctx context.Context) error {
	_, err := ch.call(ctx, request{
		op:     "confirm.select",
		method: &amqp.ConfirmSelectMessage{},
		expect: []amqp.Method{&amqp.ConfirmSelectOkMessage{}},
		before: func() error {
			if ch.mode != ModeNone {
				return &ModeConflictError{Channel: ch.id, Current: ch.mode, Requested: "select confirms"}
			}
			// The broker numbers confirms from 1 starting with the next publish.
			ch.mode = ModeConfirm
			ch.confirmBase = ch.nextSeq - 1
			return nil
		},
	})
	if err == nil {
		log.Debug().Uint16("channel", ch.id).Msg("Confirm mode selected")
	}
	return err
}

// SelectTransactions puts the channel in transactional mode.
func (ch *Channel) SelectTransactions(ctx context.Context) error {
	_, err := ch.call(ctx, request{
		op:     "tx.select",
		method: &amqp.TxSelectMessage{},
		expect: []amqp.Method{&amqp.TxSelectOkMessage{}},
		before: func() error {
			if ch.mode != ModeNone {
				return &ModeConflictError{Channel: ch.id, Current: ch.mode, Requested: "select transactions"}
			}
			ch.mode = ModeTransactional
			return nil
		},
	})
	if err == nil {
		log.Debug().Uint16("channel", ch.id).Msg("Transactional mode selected")
	}
	return err
}

// Commit makes the publishes and acknowledgements issued since the last
// commit or rollback take effect.
func (ch *Channel) Commit(ctx context.Context) error {
	return ch.endTransaction(ctx, true)
}

// Rollback discards the publishes issued since the last commit or rollback
// and returns acknowledged deliveries to the awaiting set.
func (ch *Channel) Rollback(ctx context.Context) error {
	return ch.endTransaction(ctx, false)
}

func (ch *Channel) endTransaction(ctx context.Context, commit bool) error {
	ch.txMu.Lock()
	defer ch.txMu.Unlock()

	req := request{op: "tx.commit", method: &amqp.TxCommitMessage{}, expect: []amqp.Method{&amqp.TxCommitOkMessage{}}}
	outcome := OutcomeCommitted
	if !commit {
		req = request{op: "tx.rollback", method: &amqp.TxRollbackMessage{}, expect: []amqp.Method{&amqp.TxRollbackOkMessage{}}}
		outcome = OutcomeRolledBack
	}

	var nPubs, nAcks int
	req.before = func() error {
		if ch.mode != ModeTransactional {
			return &ModeConflictError{Channel: ch.id, Current: ch.mode, Requested: req.op}
		}
		nPubs, nAcks = len(ch.txPubs), len(ch.txAcks)
		return nil
	}
	if _, err := ch.call(ctx, req); err != nil {
		return err
	}

	ch.mu.Lock()
	nPubs = min(nPubs, len(ch.txPubs))
	nAcks = min(nAcks, len(ch.txAcks))
	pubs := ch.txPubs[:nPubs]
	acks := ch.txAcks[:nAcks]
	ch.txPubs = slices.Clone(ch.txPubs[nPubs:])
	ch.txAcks = slices.Clone(ch.txAcks[nAcks:])
	if !commit {
		for _, d := range acks {
			ch.awaiting[d.DeliveryTag] = d
		}
	}
	depth := len(ch.awaiting)
	ch.mu.Unlock()

	for _, h := range pubs {
		h.resolve(outcome, nil)
	}
	if !commit {
		ch.opts.Metrics.SetAwaitingAcks(ch.id, depth)
	}
	log.Debug().Uint16("channel", ch.id).Int("publishes", nPubs).Int("acks", nAcks).Str("outcome", outcome.String()).Msg("Transaction finished")
	return nil
}

// Close performs the channel.close handshake and releases the channel id.
// Outstanding confirms and deliveries are abandoned. Closing a closed channel
// is a no-op.
func (ch *Channel) Close(ctx context.Context) error {
	ch.mu.Lock()
	switch ch.state {
	case chClosed:
		ch.mu.Unlock()
		return nil
	case chClosing:
		ch.mu.Unlock()
		select {
		case <-ch.done:
			return nil
		case <-ctx.Done():
			return &TimeoutError{Op: "channel.close", Err: ctx.Err()}
		}
	}
	ch.state = chClosing
	ch.mu.Unlock()

	closeCtx, cancel := withDefaultTimeout(ctx, ch.opts.CloseTimeout)
	defer cancel()
	_, err := ch.call(closeCtx, request{
		op:      "channel.close",
		method:  &amqp.ChannelCloseMessage{ReplyCode: uint16(amqp.REPLY_SUCCESS), ReplyText: "Goodbye"},
		expect:  []amqp.Method{&amqp.ChannelCloseOkMessage{}},
		closing: true,
	})
	ch.shutdown(ErrClosed)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Wait returns once the dispatcher has run an event (a delivery, return,
// confirm or cancel notification) that no earlier Wait returned for. It
// returns immediately if such an event already ran, and otherwise blocks
// until one does, the channel closes, or ctx is done. It must not be called
// from a handler of the same channel.
func (ch *Channel) Wait(ctx context.Context) error {
	for {
		next, ok := ch.events.claim()
		if ok {
			return nil
		}
		select {
		case <-next:
		case <-ch.done:
			ch.mu.Lock()
			defer ch.mu.Unlock()
			return ch.closedErr()
		case <-ctx.Done():
			return &TimeoutError{Op: "wait", Err: ctx.Err()}
		}
	}
}

// call sends a synchronous request and waits for its reply. Replies are
// matched in FIFO order; a timed-out call keeps its slot so that its late
// reply is discarded.
func (ch *Channel) call(ctx context.Context, req request) (rpcReply, error) {
	ctx, cancel := withDefaultTimeout(ctx, ch.opts.RPCTimeout)
	defer cancel()

	c := &rpcCall{
		op:          req.op,
		entity:      req.entity,
		declaration: req.declaration,
		track:       req.track,
		reply:       make(chan rpcReply, 1),
	}
	for _, m := range req.expect {
		c.expect = append(c.expect, methodKey(m))
	}
	frame := ch.opts.Framer.CreateMethodFrame(ch.id, req.method)

	ch.sendMu.Lock()
	ch.mu.Lock()
	if ch.state == chClosed || (ch.state == chClosing && !req.closing) {
		err := ch.closedErr()
		ch.mu.Unlock()
		ch.sendMu.Unlock()
		return rpcReply{}, err
	}
	if req.before != nil {
		if err := req.before(); err != nil {
			ch.mu.Unlock()
			ch.sendMu.Unlock()
			return rpcReply{}, err
		}
	}
	ch.calls = append(ch.calls, c)
	ch.mu.Unlock()
	err := ch.conn.send(frame)
	ch.sendMu.Unlock()
	if err != nil {
		return rpcReply{}, err
	}

	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	select {
	case r := <-c.reply:
		return r, r.err
	default:
	}
	c.abandoned = true
	log.Debug().Uint16("channel", ch.id).Str("op", req.op).Msg("Request timed out")
	return rpcReply{}, &TimeoutError{Op: req.op, Err: ctx.Err()}
}

// sendControl sends a single method frame that needs no reply.
func (ch *Channel) sendControl(m amqp.Method) error {
	frame := ch.opts.Framer.CreateMethodFrame(ch.id, m)
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	return ch.conn.send(frame)
}

func (ch *Channel) handleFrame(frame any) {
	switch f := frame.(type) {
	case *amqp.MethodFrame:
		ch.handleMethod(f.Method)
	case *amqp.HeaderFrame:
		ch.handleHeader(f)
	case *amqp.BodyFrame:
		ch.handleBody(f)
	}
}

func (ch *Channel) handleMethod(m amqp.Method) {
	classID, methodID := m.ClassMethod()
	if ch.content != nil {
		log.Warn().Uint16("channel", ch.id).Str("method", amqp.MethodName(classID, methodID)).Msg("Content interrupted by method frame")
		ch.content = nil
	}
	if amqp.CarriesContent(classID, methodID) {
		ch.content = &incoming{method: m}
		return
	}

	switch msg := m.(type) {
	case *amqp.BasicAckContent:
		ch.handleConfirm(msg.DeliveryTag, msg.Multiple, true)
	case *amqp.BasicNackContent:
		ch.handleConfirm(msg.DeliveryTag, msg.Multiple, false)
	case *amqp.ChannelCloseMessage:
		ch.handleBrokerClose(msg)
	case *amqp.ChannelFlowMessage:
		ch.handleFlow(msg.Active)
	case *amqp.BasicCancelContent:
		ch.handleBrokerCancel(msg)
	default:
		ch.resolveCall(m, nil)
	}
}

func (ch *Channel) handleHeader(f *amqp.HeaderFrame) {
	if ch.content == nil || ch.content.haveHeader {
		log.Warn().Uint16("channel", ch.id).Msg("Unexpected content header")
		ch.content = nil
		return
	}
	ch.content.props = f.Properties
	ch.content.size = f.BodySize
	ch.content.haveHeader = true
	if f.BodySize == 0 {
		ch.completeContent()
	}
}

func (ch *Channel) handleBody(f *amqp.BodyFrame) {
	if ch.content == nil || !ch.content.haveHeader {
		log.Warn().Uint16("channel", ch.id).Msg("Unexpected content body")
		return
	}
	ch.content.body = append(ch.content.body, f.Payload...)
	if uint64(len(ch.content.body)) >= ch.content.size {
		ch.completeContent()
	}
}

func (ch *Channel) completeContent() {
	in := ch.content
	ch.content = nil
	props := propertiesFromBasic(in.props)

	switch m := in.method.(type) {
	case *amqp.BasicDeliverContent:
		ch.handleDelivery(&Delivery{
			ConsumerTag: m.ConsumerTag,
			DeliveryTag: m.DeliveryTag,
			Redelivered: m.Redelivered,
			Exchange:    m.Exchange,
			RoutingKey:  m.RoutingKey,
			Properties:  props,
			Body:        in.body,
			channel:     ch,
		})
	case *amqp.BasicReturnContent:
		ch.handleReturn(Return{
			ReplyCode:  m.ReplyCode,
			ReplyText:  m.ReplyText,
			Exchange:   m.Exchange,
			RoutingKey: m.RoutingKey,
			Properties: props,
			Body:       in.body,
		})
	case *amqp.BasicGetOkContent:
		ch.resolveCall(m, &Delivery{
			DeliveryTag:  m.DeliveryTag,
			Redelivered:  m.Redelivered,
			Exchange:     m.Exchange,
			RoutingKey:   m.RoutingKey,
			MessageCount: m.MessageCount,
			Properties:   props,
			Body:         in.body,
			channel:      ch,
		})
	default:
		classID, methodID := in.method.ClassMethod()
		log.Warn().Uint16("channel", ch.id).Str("method", amqp.MethodName(classID, methodID)).Msg("Dropping unexpected content")
	}
}

func (ch *Channel) resolveCall(m amqp.Method, d *Delivery) {
	classID, methodID := m.ClassMethod()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.calls) == 0 {
		log.Warn().Uint16("channel", ch.id).Str("method", amqp.MethodName(classID, methodID)).Msg("Reply without request")
		return
	}
	c := ch.calls[0]
	ch.calls[0] = nil
	ch.calls = ch.calls[1:]

	if d != nil && c.track {
		ch.awaiting[d.DeliveryTag] = d
		ch.opts.Metrics.SetAwaitingAcks(ch.id, len(ch.awaiting))
	}
	if c.abandoned {
		log.Debug().Uint16("channel", ch.id).Str("op", c.op).Msg("Discarding late reply")
		return
	}
	if !slices.Contains(c.expect, methodKey(m)) {
		c.reply <- rpcReply{err: &ProtocolError{
			Channel:  ch.id,
			Code:     uint16(amqp.UNEXPECTED_FRAME),
			Reason:   fmt.Sprintf("%s in reply to %s", amqp.MethodName(classID, methodID), c.op),
			ClassID:  classID,
			MethodID: methodID,
		}}
		return
	}
	c.reply <- rpcReply{method: m, delivery: d}
}

func (ch *Channel) handleDelivery(d *Delivery) {
	ch.mu.Lock()
	sub := ch.consumers[d.ConsumerTag]
	if sub == nil {
		ch.mu.Unlock()
		log.Warn().Uint16("channel", ch.id).Str("consumer_tag", d.ConsumerTag).Uint64("delivery_tag", d.DeliveryTag).Msg("Delivery for unknown consumer")
		return
	}
	if !sub.noAck {
		ch.awaiting[d.DeliveryTag] = d
	}
	depth := len(ch.awaiting)
	ch.mu.Unlock()

	ch.opts.Metrics.RecordDelivery(sub.noAck)
	ch.opts.Metrics.SetAwaitingAcks(ch.id, depth)
	log.Trace().Uint16("channel", ch.id).Uint64("delivery_tag", d.DeliveryTag).Msg("Delivery received")

	ch.events.push(func() {
		// Unacknowledged deliveries of a closed channel will be redelivered.
		if !sub.noAck && ch.isClosed() {
			return
		}
		sub.handler.HandleDelivery(d)
	})
}

func (ch *Channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state == chClosed
}

func (ch *Channel) handleReturn(r Return) {
	ch.mu.Lock()
	h := ch.returnHandler
	ch.mu.Unlock()

	ch.opts.Metrics.RecordReturn(r.Exchange, r.ReplyCode)
	if h == nil {
		log.Warn().Uint16("channel", ch.id).Str("exchange", r.Exchange).Str("routing_key", r.RoutingKey).Msg("Returned message dropped: no return listener")
	}
	ch.events.push(func() {
		if h != nil {
			h.HandleReturn(r)
		}
	})
}

func (ch *Channel) handleConfirm(tag uint64, multiple, ack bool) {
	ch.mu.Lock()
	if ch.mode != ModeConfirm {
		ch.mu.Unlock()
		log.Warn().Uint16("channel", ch.id).Uint64("delivery_tag", tag).Msg("Confirm received outside confirm mode")
		return
	}
	resolved := ch.tracker.Resolve(ch.confirmBase+tag, multiple)
	outcome := OutcomeAcked
	if !ack {
		outcome = OutcomeNacked
	}
	for _, h := range resolved {
		h.resolve(outcome, nil)
	}
	pending := ch.tracker.Len()
	single, batch := ch.confirmHandler, ch.batchConfirmHandler
	ch.mu.Unlock()

	m := ch.opts.Metrics
	if len(resolved) == 0 {
		log.Warn().Uint16("channel", ch.id).Uint64("delivery_tag", tag).Bool("multiple", multiple).Msg("Ignoring stale confirm")
		m.RecordConfirm(metrics.OutcomeStale, 1)
		ch.events.push(func() {})
		return
	}
	label := metrics.OutcomeAck
	if !ack {
		label = metrics.OutcomeNack
	}
	m.RecordConfirm(label, len(resolved))
	m.SetPendingConfirms(ch.id, pending)
	log.Debug().Uint16("channel", ch.id).Uint64("delivery_tag", tag).Bool("multiple", multiple).Int("resolved", len(resolved)).Str("outcome", outcome.String()).Msg("Confirm received")

	ch.dispatchConfirms(resolved, outcome, single, batch)
}

func (ch *Channel) dispatchConfirms(handles []*PublishHandle, outcome Outcome, single ConfirmHandler, batch BatchConfirmHandler) {
	confirmations := make([]Confirmation, len(handles))
	for i, h := range handles {
		confirmations[i] = Confirmation{Sequence: h.Sequence(), Outcome: outcome}
	}
	ch.events.push(func() {
		if single != nil {
			for _, c := range confirmations {
				single.HandleConfirm(c)
			}
		}
		if batch != nil {
			batch.HandleConfirms(confirmations)
		}
	})
}

func (ch *Channel) handleBrokerClose(msg *amqp.ChannelCloseMessage) {
	log.Warn().Uint16("channel", ch.id).Uint16("reply_code", msg.ReplyCode).Str("reply_text", msg.ReplyText).Msg("Channel closed by broker")
	_ = ch.sendControl(&amqp.ChannelCloseOkMessage{})

	ch.mu.Lock()
	for _, c := range ch.calls {
		if c.abandoned {
			continue
		}
		if c.declaration {
			c.reply <- rpcReply{err: &DeclarationError{Channel: ch.id, Name: c.entity, Code: msg.ReplyCode, Reason: msg.ReplyText, ClassID: msg.ClassID, MethodID: msg.MethodID}}
		} else {
			c.reply <- rpcReply{err: &ProtocolError{Channel: ch.id, Code: msg.ReplyCode, Reason: msg.ReplyText, ClassID: msg.ClassID, MethodID: msg.MethodID}}
		}
	}
	ch.calls = nil
	ch.mu.Unlock()

	ch.shutdown(&ProtocolError{Channel: ch.id, Code: msg.ReplyCode, Reason: msg.ReplyText, ClassID: msg.ClassID, MethodID: msg.MethodID})
}

func (ch *Channel) handleFlow(active bool) {
	ch.mu.Lock()
	if ch.state == chClosed {
		ch.mu.Unlock()
		return
	}
	switch {
	case active && !ch.flowActive:
		close(ch.flowResumed)
	case !active && ch.flowActive:
		ch.flowResumed = make(chan struct{})
	}
	ch.flowActive = active
	ch.mu.Unlock()

	log.Debug().Uint16("channel", ch.id).Bool("active", active).Msg("Channel flow")
	_ = ch.sendControl(&amqp.ChannelFlowOkMessage{Active: active})
}

func (ch *Channel) handleBrokerCancel(msg *amqp.BasicCancelContent) {
	ch.mu.Lock()
	sub := ch.consumers[msg.ConsumerTag]
	delete(ch.consumers, msg.ConsumerTag)
	h := ch.cancelHandler
	ch.mu.Unlock()

	log.Warn().Uint16("channel", ch.id).Str("consumer_tag", msg.ConsumerTag).Msg("Consumer cancelled by broker")
	if !msg.NoWait {
		_ = ch.sendControl(&amqp.BasicCancelOkContent{ConsumerTag: msg.ConsumerTag})
	}
	if sub != nil {
		sub.markCancelled()
	}
	ch.events.push(func() {
		if h != nil {
			h.HandleCancel(msg.ConsumerTag)
		}
	})
}

// waitFlow blocks while the broker has paused publishing.
func (ch *Channel) waitFlow(ctx context.Context) error {
	ch.mu.Lock()
	if ch.flowActive {
		ch.mu.Unlock()
		return nil
	}
	resumed := ch.flowResumed
	ch.mu.Unlock()

	select {
	case <-resumed:
		return nil
	case <-ch.done:
		return nil
	case <-ctx.Done():
		return &TimeoutError{Op: "publish (flow paused)", Err: ctx.Err()}
	}
}

func (ch *Channel) publish(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing) (*PublishHandle, error) {
	if msg.Properties.Headers != nil {
		if err := msg.Properties.Headers.Validate(); err != nil {
			return nil, fmt.Errorf("invalid headers: %w", err)
		}
	}
	method := &amqp.BasicPublishContent{Exchange: exchange, RoutingKey: routingKey, Mandatory: mandatory, Immediate: immediate}
	frames, err := ch.opts.Framer.CreateContentFrames(ch.id, method, amqp.Message{Body: msg.Body, Properties: msg.Properties.toBasic()}, ch.conn.frameMax())
	if err != nil {
		return nil, err
	}
	if err := ch.waitFlow(ctx); err != nil {
		return nil, err
	}

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	ch.mu.Lock()
	if ch.state != chOpen {
		err := ch.closedErr()
		ch.mu.Unlock()
		return nil, err
	}
	seq := ch.nextSeq
	ch.nextSeq++
	h := newPublishHandle(seq, ch.opts.ConfirmTimeout)
	mode := ch.mode
	switch mode {
	case ModeConfirm:
		ch.tracker.Register(seq, h)
	case ModeTransactional:
		ch.txPubs = append(ch.txPubs, h)
	default:
		h.resolve(OutcomeUnconfirmed, nil)
	}
	pending := ch.tracker.Len()
	ch.mu.Unlock()

	for _, f := range frames {
		if err := ch.conn.send(f); err != nil {
			return nil, err
		}
	}
	ch.opts.Metrics.RecordPublish(exchange)
	if mode == ModeConfirm {
		ch.opts.Metrics.SetPendingConfirms(ch.id, pending)
	}
	log.Trace().Uint16("channel", ch.id).Uint64("sequence", seq).Str("exchange", exchange).Str("routing_key", routingKey).Msg("Published")
	return h, nil
}

// settle removes the deliveries an ack, nack or reject resolves. A zero tag
// with multiple means every outstanding delivery. Called with mu held.
func (ch *Channel) settle(tag uint64, multiple bool) ([]*Delivery, error) {
	if ch.state != chOpen {
		return nil, ch.closedErr()
	}
	var settled []*Delivery
	if multiple {
		for t, d := range ch.awaiting {
			if tag == 0 || t <= tag {
				settled = append(settled, d)
			}
		}
		sort.Slice(settled, func(i, j int) bool { return settled[i].DeliveryTag < settled[j].DeliveryTag })
	} else if d, ok := ch.awaiting[tag]; ok {
		settled = []*Delivery{d}
	}
	if len(settled) == 0 {
		return nil, &UnknownDeliveryTagError{Channel: ch.id, DeliveryTag: tag}
	}
	for _, d := range settled {
		delete(ch.awaiting, d.DeliveryTag)
	}
	if ch.mode == ModeTransactional {
		ch.txAcks = append(ch.txAcks, settled...)
	}
	return settled, nil
}

func (ch *Channel) acknowledge(tag uint64, multiple bool, m amqp.Method) (int, error) {
	frame := ch.opts.Framer.CreateMethodFrame(ch.id, m)

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	ch.mu.Lock()
	settled, err := ch.settle(tag, multiple)
	depth := len(ch.awaiting)
	ch.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := ch.conn.send(frame); err != nil {
		return 0, err
	}
	ch.opts.Metrics.SetAwaitingAcks(ch.id, depth)
	return len(settled), nil
}

func (ch *Channel) ack(tag uint64, multiple bool) error {
	n, err := ch.acknowledge(tag, multiple, &amqp.BasicAckContent{DeliveryTag: tag, Multiple: multiple})
	if err == nil {
		ch.opts.Metrics.RecordAck(n)
	}
	return err
}

func (ch *Channel) reject(tag uint64, requeue bool) error {
	_, err := ch.acknowledge(tag, false, &amqp.BasicRejectContent{DeliveryTag: tag, Requeue: requeue})
	if err == nil {
		ch.opts.Metrics.RecordReject()
	}
	return err
}

func (ch *Channel) nack(tag uint64, multiple, requeue bool) error {
	n, err := ch.acknowledge(tag, multiple, &amqp.BasicNackContent{DeliveryTag: tag, Multiple: multiple, Requeue: requeue})
	if err == nil {
		ch.opts.Metrics.RecordNack(n)
	}
	return err
}

// shutdown moves the channel to closed and resolves everything outstanding:
// pending confirms and transactional publishes become abandoned, awaiting
// deliveries move to the abandoned list and waiting requests fail.
func (ch *Channel) shutdown(cause error) {
	ch.mu.Lock()
	if ch.state == chClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = chClosed
	ch.err = cause
	closeErr := ch.closedErr()

	confirms := ch.tracker.AbandonAll()
	for _, h := range confirms {
		h.resolve(OutcomeAbandoned, cause)
	}
	for _, h := range ch.txPubs {
		h.resolve(OutcomeAbandoned, cause)
	}
	ch.txPubs = nil

	dropped := make([]*Delivery, 0, len(ch.awaiting)+len(ch.txAcks))
	for _, d := range ch.awaiting {
		dropped = append(dropped, d)
	}
	dropped = append(dropped, ch.txAcks...)
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].DeliveryTag < dropped[j].DeliveryTag })
	ch.abandoned = append(ch.abandoned, dropped...)
	ch.awaiting = make(map[uint64]*Delivery)
	ch.txAcks = nil

	for _, c := range ch.calls {
		if !c.abandoned {
			c.reply <- rpcReply{err: closeErr}
		}
	}
	ch.calls = nil

	subs := make([]*Subscription, 0, len(ch.consumers))
	for _, sub := range ch.consumers {
		subs = append(subs, sub)
	}
	ch.consumers = make(map[string]*Subscription)
	single, batch := ch.confirmHandler, ch.batchConfirmHandler
	close(ch.done)
	ch.mu.Unlock()

	for _, sub := range subs {
		sub.markCancelled()
	}
	ch.conn.releaseChannel(ch)

	m := ch.opts.Metrics
	if len(confirms) > 0 {
		m.RecordConfirm(metrics.OutcomeAbandoned, len(confirms))
		m.SetPendingConfirms(ch.id, 0)
		log.Warn().Uint16("channel", ch.id).Int("count", len(confirms)).Msg("Abandoning pending confirms")
		ch.dispatchConfirms(confirms, OutcomeAbandoned, single, batch)
	}
	if len(dropped) > 0 {
		m.RecordAbandonedDeliveries(len(dropped))
		log.Warn().Uint16("channel", ch.id).Int("count", len(dropped)).Msg("Abandoning unacknowledged deliveries")
	}
	m.RecordChannelClose(ch.id)
	ch.events.close()
	log.Debug().Uint16("channel", ch.id).AnErr("cause", cause).Msg("Channel closed")
}
