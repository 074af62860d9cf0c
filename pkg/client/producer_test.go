package client

import (
	"context"
	"testing"
	"time"

	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/ottermq/otterclient/internal/testutil"
	"github.com/ottermq/otterclient/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishConfirmConsumeAck(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	ctx := context.Background()

	topo := NewTopology(ch)
	_, err := topo.DeclareQueue(ctx, "q1", true, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, topo.DeclareExchange(ctx, "ex1", amqp.EXCHANGE_DIRECT, true, false, false, nil))
	require.NoError(t, topo.BindQueue(ctx, "q1", "ex1", "rk", nil))

	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))
	require.NoError(t, p.PublishAndConfirm(ctx, "ex1", "rk", false, false, Publishing{Body: []byte("hello")}))

	c := NewConsumer(ch)
	deliveries, handle := collect[*Delivery](1)
	_, err = c.Consume(ctx, "q1", "", false, false, false, false, DeliveryHandlerFunc(handle), nil)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "hello", string(d.Body))
	assert.Equal(t, "ex1", d.Exchange)
	assert.Equal(t, []uint64{d.DeliveryTag}, c.Outstanding())

	require.NoError(t, d.Ack())
	assert.Empty(t, c.Outstanding())

	require.NoError(t, ch.Close(ctx))
	assert.Empty(t, c.Abandoned())
	assert.Equal(t, 0, b.QueueDepth("q1"), "an acked message is not redelivered")
}

func TestProducer_MultipleAckResolvesBatchAndIgnoresStale(t *testing.T) {
	rec := metrics.NewMockRecorder()
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()}, WithMetrics(rec))
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))

	var handles []*PublishHandle
	for i := 0; i < 3; i++ {
		h, err := p.Publish(ctx, "", "q", false, false, Publishing{Body: []byte("m")})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, []uint64{1, 2, 3}, sequences(handles))
	assert.Equal(t, []uint64{1, 2, 3}, p.Outstanding())

	b.Confirm(ch.ID(), 3, true, true)
	require.NoError(t, p.WaitBatch(ctx, handles))
	for _, h := range handles {
		assert.Equal(t, OutcomeAcked, h.Outcome())
	}
	assert.Empty(t, p.Outstanding())

	b.Confirm(ch.ID(), 2, false, true)
	require.Eventually(t, func() bool { return rec.Confirms(metrics.OutcomeStale) == 1 }, eventually, time.Millisecond)
	assert.Equal(t, 3, rec.Confirms(metrics.OutcomeAck))
	assert.Nil(t, ch.Err())
	for _, h := range handles {
		assert.Equal(t, OutcomeAcked, h.Outcome())
	}
}

func TestProducer_SequenceAdvancesBeforeConfirmMode(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	declareQueue(t, ch, "q")
	p := NewProducer(ch)

	for i := 0; i < 2; i++ {
		h, err := p.Publish(ctx, "", "q", false, false, Publishing{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnconfirmed, h.Outcome())
		assert.NoError(t, h.Wait(ctx))
	}

	require.NoError(t, p.SelectConfirms(ctx))
	h, err := p.Publish(ctx, "", "q", false, false, Publishing{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.Sequence())
	require.NoError(t, h.Wait(ctx), "broker tag 1 maps to sequence 3")
	assert.Equal(t, OutcomeAcked, h.Outcome())
	assert.Equal(t, 3, b.QueueDepth("q"))
}

func TestProducer_InvalidHeadersDoNotConsumeSequence(t *testing.T) {
	conn, _ := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)

	_, err := p.Publish(ctx, "", "q", false, false, Publishing{Properties: Properties{Headers: Table{"bad": struct{}{}}}})
	require.Error(t, err)

	h, err := p.Publish(ctx, "", "q", false, false, Publishing{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Sequence())
}

func TestProducer_NackFailsWait(t *testing.T) {
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()})
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))

	handles, err := p.PublishBatch(ctx, []Outbound{
		{RoutingKey: "a"},
		{RoutingKey: "b"},
		{RoutingKey: "c"},
	})
	require.NoError(t, err)
	b.Confirm(ch.ID(), 1, false, true)
	b.Confirm(ch.ID(), 3, true, false)

	err = p.WaitBatch(ctx, handles)
	var rejected *PublishRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, []uint64{2, 3}, rejected.Sequences)
	assert.Equal(t, OutcomeAcked, handles[0].Outcome())
}

func TestProducer_PublishAndConfirmTimesOutButStaysPending(t *testing.T) {
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()}, WithConfirmTimeout(20*time.Millisecond))
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))

	var timeout *TimeoutError
	require.ErrorAs(t, p.PublishAndConfirm(ctx, "", "q", false, false, Publishing{}), &timeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.Equal(t, []uint64{1}, p.Outstanding())

	b.Confirm(ch.ID(), 1, false, true)
	require.Eventually(t, func() bool { return len(p.Outstanding()) == 0 }, eventually, time.Millisecond)
}

func TestProducer_ConfirmWaitRequiresConfirmMode(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)

	var conflict *ModeConflictError
	require.ErrorAs(t, p.PublishAndConfirm(ctx, "", "q", false, false, Publishing{}), &conflict)
	require.ErrorAs(t, p.PublishBatchAndConfirm(ctx, []Outbound{{RoutingKey: "q"}}), &conflict)
	require.NoError(t, p.TxSelect(ctx))
	require.ErrorAs(t, p.PublishAndConfirm(ctx, "", "q", false, false, Publishing{}), &conflict)
	assert.Equal(t, ModeTransactional, conflict.Current)

	for _, m := range b.Received(ch.ID()) {
		_, isPublish := m.(*amqp.BasicPublishContent)
		assert.False(t, isPublish, "nothing is published without confirm mode")
	}
}

func TestProducer_AsyncHandlers(t *testing.T) {
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()})
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))

	singles, onSingle := collect[Confirmation](4)
	batches, onBatch := collect[[]Confirmation](4)
	p.SetConfirmHandler(ConfirmHandlerFunc(onSingle))
	p.SetBatchConfirmHandler(BatchConfirmHandlerFunc(onBatch))

	_, err := p.PublishBatch(ctx, []Outbound{{RoutingKey: "a"}, {RoutingKey: "b"}, {RoutingKey: "c"}})
	require.NoError(t, err)
	b.Confirm(ch.ID(), 2, true, true)
	b.Confirm(ch.ID(), 3, false, false)

	assert.Equal(t, Confirmation{Sequence: 1, Outcome: OutcomeAcked}, receive(t, singles))
	assert.Equal(t, Confirmation{Sequence: 2, Outcome: OutcomeAcked}, receive(t, singles))
	assert.Equal(t, Confirmation{Sequence: 3, Outcome: OutcomeNacked}, receive(t, singles))
	assert.Equal(t, []Confirmation{{Sequence: 1, Outcome: OutcomeAcked}, {Sequence: 2, Outcome: OutcomeAcked}}, receive(t, batches))
	assert.Equal(t, []Confirmation{{Sequence: 3, Outcome: OutcomeNacked}}, receive(t, batches))
}

func TestProducer_CloseAbandonsPendingConfirms(t *testing.T) {
	rec := metrics.NewMockRecorder()
	conn, _ := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()}, WithMetrics(rec))
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))

	batches, onBatch := collect[[]Confirmation](1)
	p.SetBatchConfirmHandler(BatchConfirmHandlerFunc(onBatch))
	handles, err := p.PublishBatch(ctx, []Outbound{{RoutingKey: "a"}, {RoutingKey: "b"}})
	require.NoError(t, err)

	require.NoError(t, ch.Close(ctx))
	var abandoned *AbandonedError
	require.ErrorAs(t, p.WaitBatch(ctx, handles), &abandoned)
	assert.Equal(t, []uint64{1, 2}, abandoned.Sequences)
	assert.ErrorIs(t, abandoned, ErrClosed)
	assert.Equal(t, []Confirmation{{Sequence: 1, Outcome: OutcomeAbandoned}, {Sequence: 2, Outcome: OutcomeAbandoned}}, receive(t, batches))
	assert.Equal(t, 2, rec.Confirms(metrics.OutcomeAbandoned))
	assert.Zero(t, rec.PendingConfirms(ch.ID()))
}

func TestProducer_ReturnsAreNotNacks(t *testing.T) {
	rec := metrics.NewMockRecorder()
	conn, _ := newTestConnection(t, nil, WithMetrics(rec))
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))

	returns, onReturn := collect[Return](1)
	p.SetReturnListener(ReturnHandlerFunc(onReturn))

	msg := Publishing{Properties: Properties{MessageID: "m-1"}, Body: []byte("lost")}
	require.NoError(t, p.PublishAndConfirm(ctx, "amq.direct", "nowhere", true, false, msg))

	r := receive(t, returns)
	assert.Equal(t, uint16(amqp.NO_ROUTE), r.ReplyCode)
	assert.Equal(t, "nowhere", r.RoutingKey)
	assert.Equal(t, "m-1", r.Properties.MessageID)
	assert.Equal(t, "lost", string(r.Body))
	assert.Equal(t, 1, rec.Count("Return"))
	assert.Eventually(t, func() bool { return rec.Confirms(metrics.OutcomeAck) == 1 }, eventually, time.Millisecond)
}

func TestProducer_LargeBodiesAreSplit(t *testing.T) {
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithFrameMax(4096)})
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	declareQueue(t, ch, "big")
	body := make([]byte, 10000)
	for i := range body {
		body[i] = byte(i)
	}

	_, err := NewProducer(ch).Publish(ctx, "", "big", false, false, Publishing{Body: body})
	require.NoError(t, err)

	d, ok, err := NewConsumer(ch).Get(ctx, "big", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, d.Body)
	assert.Equal(t, 0, b.QueueDepth("big"))
}

func TestProducer_WaitSeesConfirmHandledBeforeCall(t *testing.T) {
	conn, _ := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	ctx := context.Background()
	declareQueue(t, ch, "q")

	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))
	confirms, handle := collect[Confirmation](1)
	p.SetConfirmHandler(ConfirmHandlerFunc(handle))

	_, err := p.Publish(ctx, "", "q", false, false, Publishing{Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcked, receive(t, confirms).Outcome)

	short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	assert.NoError(t, ch.Wait(short))
}
