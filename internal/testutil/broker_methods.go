package testutil

import (
	"fmt"
	"sort"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
)

type unacked struct {
	tag   uint64
	queue string
	msg   message
}

type settlement struct {
	records []unacked
	ack     bool
	requeue bool
}

type inbound struct {
	publish    *amqp.BasicPublishContent
	props      amqp.BasicProperties
	size       uint64
	body       []byte
	haveHeader bool
}

type channelState struct {
	id          uint16
	closing     bool
	confirm     bool
	tx          bool
	publishSeq  uint64
	deliveryTag uint64
	prefetch    uint16
	unacked     map[uint64]unacked
	consumers   map[string]string // tag -> queue
	content     *inbound
	txPublishes []inbound
	txSettled   []settlement
}

func (b *FakeBroker) handleFrame(parsed any) {
	switch f := parsed.(type) {
	case *amqp.MethodFrame:
		b.received = append(b.received, *f)
		if f.Channel == 0 {
			b.handleConnection(f.Method)
			return
		}
		if _, ok := f.Method.(*amqp.ChannelOpenMessage); ok {
			b.channels[f.Channel] = &channelState{
				id:        f.Channel,
				unacked:   make(map[uint64]unacked),
				consumers: make(map[string]string),
			}
			b.reply(f.Channel, &amqp.ChannelOpenOkMessage{})
			return
		}
		ch := b.channels[f.Channel]
		if ch == nil {
			return
		}
		if ch.closing {
			if _, ok := f.Method.(*amqp.ChannelCloseOkMessage); ok {
				b.cleanupChannel(ch)
			}
			return
		}
		b.handleMethod(ch, f.Method)

	case *amqp.HeaderFrame:
		ch := b.channels[f.Channel]
		if ch == nil || ch.content == nil {
			return
		}
		if f.Properties != nil {
			ch.content.props = *f.Properties
		}
		ch.content.size = f.BodySize
		ch.content.haveHeader = true
		if f.BodySize == 0 {
			b.completePublish(ch)
		}

	case *amqp.BodyFrame:
		ch := b.channels[f.Channel]
		if ch == nil || ch.content == nil || !ch.content.haveHeader {
			return
		}
		ch.content.body = append(ch.content.body, f.Payload...)
		if uint64(len(ch.content.body)) >= ch.content.size {
			b.completePublish(ch)
		}
	}
}

func (b *FakeBroker) handleConnection(m amqp.Method) {
	switch m.(type) {
	case *amqp.ConnectionCloseMessage:
		b.push(amqp.CreateMethodFrame(0, &amqp.ConnectionCloseOkMessage{}))
		b.closed = true
		b.cond.Broadcast()
	case *amqp.ConnectionCloseOkMessage:
		b.closed = true
		b.cond.Broadcast()
	}
}

func (b *FakeBroker) fail(ch *channelState, code amqp.ReplyCode, m amqp.Method, format string, args ...any) {
	classID, methodID := m.ClassMethod()
	text := code.Format(fmt.Sprintf(format, args...))
	b.closeChannel(ch.id, amqperrors.NewChannelError(text, uint16(code), classID, methodID))
}

func (b *FakeBroker) closeChannel(id uint16, err amqperrors.AMQPError) {
	ch := b.channels[id]
	if ch == nil || ch.closing {
		return
	}
	ch.closing = true
	b.pushMethod(id, &amqp.ChannelCloseMessage{
		ReplyCode: err.ReplyCode(),
		ReplyText: err.ReplyText(),
		ClassID:   err.ClassID(),
		MethodID:  err.MethodID(),
	})
}

// cleanupChannel requeues the channel's unacknowledged messages and drops its
// consumers.
func (b *FakeBroker) cleanupChannel(ch *channelState) {
	delete(b.channels, ch.id)
	records := make([]unacked, 0, len(ch.unacked))
	for _, r := range ch.unacked {
		records = append(records, r)
	}
	for _, s := range ch.txSettled {
		records = append(records, s.records...)
	}
	for tag := range ch.consumers {
		b.removeConsumer(ch, tag)
	}
	b.requeue(records)
}

func (b *FakeBroker) removeConsumer(ch *channelState, tag string) {
	qname, ok := ch.consumers[tag]
	if !ok {
		return
	}
	delete(ch.consumers, tag)
	q := b.queues[qname]
	if q == nil {
		return
	}
	for i, c := range q.consumers {
		if c.channel == ch.id && c.tag == tag {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
}

func (b *FakeBroker) requeue(records []unacked) {
	sort.Slice(records, func(i, j int) bool { return records[i].tag > records[j].tag })
	touched := make(map[string]*queue)
	for _, r := range records {
		q := b.queues[r.queue]
		if q == nil {
			continue
		}
		msg := r.msg
		msg.redelivered = true
		q.messages = append([]message{msg}, q.messages...)
		touched[q.name] = q
	}
	for _, q := range touched {
		b.dispatch(q)
	}
}

func (b *FakeBroker) handleMethod(ch *channelState, m amqp.Method) {
	switch msg := m.(type) {
	case *amqp.ChannelCloseMessage:
		b.cleanupChannel(ch)
		b.reply(ch.id, &amqp.ChannelCloseOkMessage{})
	case *amqp.ChannelFlowOkMessage, *amqp.BasicCancelOkContent:
	case *amqp.ExchangeDeclareMessage:
		b.declareExchange(ch, msg)
	case *amqp.ExchangeBindMessage:
		b.bindExchange(ch, msg)
	case *amqp.QueueDeclareMessage:
		b.declareQueue(ch, msg)
	case *amqp.QueueBindMessage:
		b.bindQueue(ch, msg)
	case *amqp.BasicQosContent:
		ch.prefetch = msg.PrefetchCount
		b.reply(ch.id, &amqp.BasicQosOkContent{})
	case *amqp.BasicConsumeContent:
		b.consume(ch, msg)
	case *amqp.BasicCancelContent:
		b.removeConsumer(ch, msg.ConsumerTag)
		if !msg.NoWait {
			b.reply(ch.id, &amqp.BasicCancelOkContent{ConsumerTag: msg.ConsumerTag})
		}
	case *amqp.BasicPublishContent:
		ch.content = &inbound{publish: msg}
	case *amqp.BasicGetContent:
		b.get(ch, msg)
	case *amqp.BasicAckContent:
		b.settle(ch, m, msg.DeliveryTag, msg.Multiple, true, false)
	case *amqp.BasicRejectContent:
		b.settle(ch, m, msg.DeliveryTag, false, false, msg.Requeue)
	case *amqp.BasicNackContent:
		b.settle(ch, m, msg.DeliveryTag, msg.Multiple, false, msg.Requeue)
	case *amqp.BasicRecoverContent:
		records := make([]unacked, 0, len(ch.unacked))
		for _, r := range ch.unacked {
			records = append(records, r)
		}
		ch.unacked = make(map[uint64]unacked)
		b.reply(ch.id, &amqp.BasicRecoverOkContent{})
		b.requeue(records)
	case *amqp.ConfirmSelectMessage:
		if ch.tx {
			b.fail(ch, amqp.PRECONDITION_FAILED, m, "cannot switch from tx to confirm mode")
			return
		}
		ch.confirm = true
		if !msg.NoWait {
			b.reply(ch.id, &amqp.ConfirmSelectOkMessage{})
		}
	case *amqp.TxSelectMessage:
		if ch.confirm {
			b.fail(ch, amqp.PRECONDITION_FAILED, m, "cannot switch from confirm to tx mode")
			return
		}
		ch.tx = true
		b.reply(ch.id, &amqp.TxSelectOkMessage{})
	case *amqp.TxCommitMessage:
		b.endTx(ch, m, true)
	case *amqp.TxRollbackMessage:
		b.endTx(ch, m, false)
	default:
		b.fail(ch, amqp.NOT_IMPLEMENTED, m, "method not supported")
	}
}

func (b *FakeBroker) declareExchange(ch *channelState, msg *amqp.ExchangeDeclareMessage) {
	e := b.exchanges[msg.ExchangeName]
	switch {
	case msg.Passive && e == nil:
		b.fail(ch, amqp.NOT_FOUND, msg, "no exchange '%s' in vhost '/'", msg.ExchangeName)
		return
	case e == nil && !amqp.IsExchangeKind(msg.ExchangeType):
		b.fail(ch, amqp.COMMAND_INVALID, msg, "unknown exchange type '%s'", msg.ExchangeType)
		return
	case e != nil && !msg.Passive && e.kind != msg.ExchangeType:
		b.fail(ch, amqp.PRECONDITION_FAILED, msg, "inequivalent arg 'type' for exchange '%s' in vhost '/': received '%s' but current is '%s'", msg.ExchangeName, msg.ExchangeType, e.kind)
		return
	case e != nil && !msg.Passive && e.durable != msg.Durable:
		b.fail(ch, amqp.PRECONDITION_FAILED, msg, "inequivalent arg 'durable' for exchange '%s' in vhost '/': received '%t' but current is '%t'", msg.ExchangeName, msg.Durable, e.durable)
		return
	case e == nil:
		b.exchanges[msg.ExchangeName] = newExchange(msg.ExchangeName, msg.ExchangeType, msg.Durable, msg.AutoDelete, msg.Internal)
	}
	if !msg.NoWait {
		b.reply(ch.id, &amqp.ExchangeDeclareOkMessage{})
	}
}

func (b *FakeBroker) declareQueue(ch *channelState, msg *amqp.QueueDeclareMessage) {
	name := msg.QueueName
	if name == "" {
		b.nameSeq++
		name = fmt.Sprintf("amq.gen-%d", b.nameSeq)
	}
	q := b.queues[name]
	switch {
	case msg.Passive && q == nil:
		b.fail(ch, amqp.NOT_FOUND, msg, "no queue '%s' in vhost '/'", name)
		return
	case q != nil && !msg.Passive && q.durable != msg.Durable:
		b.fail(ch, amqp.PRECONDITION_FAILED, msg, "inequivalent arg 'durable' for queue '%s' in vhost '/': received '%t' but current is '%t'", name, msg.Durable, q.durable)
		return
	case q != nil && !msg.Passive && q.exclusive != msg.Exclusive:
		b.fail(ch, amqp.RESOURCE_LOCKED, msg, "cannot obtain exclusive access to locked queue '%s' in vhost '/'", name)
		return
	case q == nil:
		q = &queue{name: name, durable: msg.Durable, exclusive: msg.Exclusive, autoDelete: msg.AutoDelete}
		b.queues[name] = q
	}
	if !msg.NoWait {
		b.reply(ch.id, &amqp.QueueDeclareOkMessage{
			QueueName:     name,
			MessageCount:  uint32(len(q.messages)),
			ConsumerCount: uint32(len(q.consumers)),
		})
	}
}

func (b *FakeBroker) bindQueue(ch *channelState, msg *amqp.QueueBindMessage) {
	e := b.exchanges[msg.Exchange]
	if e == nil || msg.Exchange == "" {
		b.fail(ch, amqp.NOT_FOUND, msg, "no exchange '%s' in vhost '/'", msg.Exchange)
		return
	}
	if b.queues[msg.Queue] == nil {
		b.fail(ch, amqp.NOT_FOUND, msg, "no queue '%s' in vhost '/'", msg.Queue)
		return
	}
	e.bind(binding{routingKey: msg.RoutingKey, args: msg.Arguments, queue: msg.Queue})
	if !msg.NoWait {
		b.reply(ch.id, &amqp.QueueBindOkMessage{})
	}
}

func (b *FakeBroker) bindExchange(ch *channelState, msg *amqp.ExchangeBindMessage) {
	source, dest := b.exchanges[msg.Source], b.exchanges[msg.Destination]
	if source == nil {
		b.fail(ch, amqp.NOT_FOUND, msg, "no exchange '%s' in vhost '/'", msg.Source)
		return
	}
	if dest == nil {
		b.fail(ch, amqp.NOT_FOUND, msg, "no exchange '%s' in vhost '/'", msg.Destination)
		return
	}
	source.bind(binding{routingKey: msg.RoutingKey, args: msg.Arguments, exchange: msg.Destination})
	if !msg.NoWait {
		b.reply(ch.id, &amqp.ExchangeBindOkMessage{})
	}
}

func (b *FakeBroker) consume(ch *channelState, msg *amqp.BasicConsumeContent) {
	q := b.queues[msg.Queue]
	if q == nil {
		b.fail(ch, amqp.NOT_FOUND, msg, "no queue '%s' in vhost '/'", msg.Queue)
		return
	}
	tag := msg.ConsumerTag
	if tag == "" {
		b.nameSeq++
		tag = fmt.Sprintf("amq.ctag-%d", b.nameSeq)
	}
	if _, exists := ch.consumers[tag]; exists {
		b.fail(ch, amqp.NOT_ALLOWED, msg, "attempt to reuse consumer tag '%s'", tag)
		return
	}
	ch.consumers[tag] = q.name
	q.consumers = append(q.consumers, consumerRef{channel: ch.id, tag: tag, noAck: msg.NoAck})
	if !msg.NoWait {
		b.reply(ch.id, &amqp.BasicConsumeOkContent{ConsumerTag: tag})
	}
	b.dispatch(q)
}

// dispatch pushes ready messages to the queue's consumers round robin,
// honouring each channel's prefetch count.
func (b *FakeBroker) dispatch(q *queue) {
	for len(q.messages) > 0 && len(q.consumers) > 0 {
		delivered := false
		for range q.consumers {
			c := q.consumers[q.next%len(q.consumers)]
			q.next++
			ch := b.channels[c.channel]
			if ch == nil || ch.closing {
				continue
			}
			if !c.noAck && ch.prefetch > 0 && len(ch.unacked) >= int(ch.prefetch) {
				continue
			}
			msg := q.messages[0]
			q.messages = q.messages[1:]
			ch.deliveryTag++
			if !c.noAck {
				ch.unacked[ch.deliveryTag] = unacked{tag: ch.deliveryTag, queue: q.name, msg: msg}
			}
			b.pushContent(ch.id, &amqp.BasicDeliverContent{
				ConsumerTag: c.tag,
				DeliveryTag: ch.deliveryTag,
				Redelivered: msg.redelivered,
				Exchange:    msg.exchange,
				RoutingKey:  msg.routingKey,
			}, msg)
			delivered = true
			break
		}
		if !delivered {
			return
		}
	}
}

func (b *FakeBroker) completePublish(ch *channelState) {
	in := *ch.content
	ch.content = nil
	if ch.tx {
		ch.txPublishes = append(ch.txPublishes, in)
		return
	}
	b.routePublish(ch, in)
}

func (b *FakeBroker) routePublish(ch *channelState, in inbound) {
	p := in.publish
	if p.Exchange != "" && b.exchanges[p.Exchange] == nil {
		b.fail(ch, amqp.NOT_FOUND, p, "no exchange '%s' in vhost '/'", p.Exchange)
		return
	}
	msg := message{exchange: p.Exchange, routingKey: p.RoutingKey, props: in.props, body: in.body}
	queues := b.route(p.Exchange, p.RoutingKey, in.props.Headers)
	if len(queues) == 0 && p.Mandatory {
		b.pushContent(ch.id, &amqp.BasicReturnContent{
			ReplyCode:  uint16(amqp.NO_ROUTE),
			ReplyText:  "NO_ROUTE",
			Exchange:   p.Exchange,
			RoutingKey: p.RoutingKey,
		}, msg)
	}
	for _, q := range queues {
		q.messages = append(q.messages, msg)
	}
	if ch.confirm {
		ch.publishSeq++
		if !b.manualConfirms {
			b.sendConfirm(ch.id, ch.publishSeq, false, true)
		}
	}
	for _, q := range queues {
		b.dispatch(q)
	}
}

func (b *FakeBroker) sendConfirm(channel uint16, tag uint64, multiple, ack bool) {
	if ack {
		b.pushMethod(channel, &amqp.BasicAckContent{DeliveryTag: tag, Multiple: multiple})
		return
	}
	b.pushMethod(channel, &amqp.BasicNackContent{DeliveryTag: tag, Multiple: multiple})
}

func (b *FakeBroker) get(ch *channelState, msg *amqp.BasicGetContent) {
	q := b.queues[msg.Queue]
	if q == nil {
		b.fail(ch, amqp.NOT_FOUND, msg, "no queue '%s' in vhost '/'", msg.Queue)
		return
	}
	if len(q.messages) == 0 {
		b.reply(ch.id, &amqp.BasicGetEmptyContent{})
		return
	}
	m := q.messages[0]
	q.messages = q.messages[1:]
	ch.deliveryTag++
	if !msg.NoAck {
		ch.unacked[ch.deliveryTag] = unacked{tag: ch.deliveryTag, queue: q.name, msg: m}
	}
	b.pushContent(ch.id, &amqp.BasicGetOkContent{
		DeliveryTag:  ch.deliveryTag,
		Redelivered:  m.redelivered,
		Exchange:     m.exchange,
		RoutingKey:   m.routingKey,
		MessageCount: uint32(len(q.messages)),
	}, m)
}

func (b *FakeBroker) settle(ch *channelState, m amqp.Method, tag uint64, multiple, ack, requeue bool) {
	var records []unacked
	for t, r := range ch.unacked {
		if t == tag || (multiple && (tag == 0 || t <= tag)) {
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		b.fail(ch, amqp.PRECONDITION_FAILED, m, "unknown delivery tag %d", tag)
		return
	}
	for _, r := range records {
		delete(ch.unacked, r.tag)
	}
	s := settlement{records: records, ack: ack, requeue: requeue}
	if ch.tx {
		ch.txSettled = append(ch.txSettled, s)
		return
	}
	b.applySettlement(s)
}

// applySettlement requeues rejected messages and refills prefetch windows.
func (b *FakeBroker) applySettlement(s settlement) {
	if !s.ack && s.requeue {
		b.requeue(s.records)
		return
	}
	touched := make(map[string]bool)
	for _, r := range s.records {
		if q := b.queues[r.queue]; q != nil && !touched[q.name] {
			touched[q.name] = true
			b.dispatch(q)
		}
	}
}

func (b *FakeBroker) endTx(ch *channelState, m amqp.Method, commit bool) {
	if !ch.tx {
		b.fail(ch, amqp.PRECONDITION_FAILED, m, "channel is not transactional")
		return
	}
	publishes, settled := ch.txPublishes, ch.txSettled
	ch.txPublishes, ch.txSettled = nil, nil
	if commit {
		for _, in := range publishes {
			b.routePublish(ch, in)
		}
		for _, s := range settled {
			b.applySettlement(s)
		}
		b.reply(ch.id, &amqp.TxCommitOkMessage{})
		return
	}
	for _, s := range settled {
		for _, r := range s.records {
			ch.unacked[r.tag] = r
		}
	}
	b.reply(ch.id, &amqp.TxRollbackOkMessage{})
}
