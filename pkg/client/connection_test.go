package client

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
	"github.com/ottermq/otterclient/internal/testutil"
	"github.com/ottermq/otterclient/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_WrapsDialFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode uint16
	}{
		{"network", io.ErrUnexpectedEOF, 0},
		{"refused", amqperrors.NewConnectionError("ACCESS_REFUSED - login refused", uint16(amqp.ACCESS_REFUSED), 10, 11), uint16(amqp.ACCESS_REFUSED)},
		{"already wrapped", &ConnectionError{Code: uint16(amqp.INVALID_PATH), Reason: "no vhost"}, uint16(amqp.INVALID_PATH)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), func(context.Context) (Transport, error) { return nil, tt.err })
			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantCode, ce.Code)
		})
	}
}

func TestConnection_OpenChannelAllocatesIDs(t *testing.T) {
	conn, _ := newTestConnection(t, nil)

	ch1 := openTestChannel(t, conn)
	ch2 := openTestChannel(t, conn)
	assert.Equal(t, uint16(1), ch1.ID())
	assert.Equal(t, uint16(2), ch2.ID())
	assert.Equal(t, []uint16{1, 2}, conn.Channels())

	require.NoError(t, ch1.Close(context.Background()))
	assert.Equal(t, []uint16{2}, conn.Channels())

	ch3 := openTestChannel(t, conn)
	assert.Equal(t, uint16(1), ch3.ID(), "a released id is reused")
}

func TestConnection_ChannelExhaustion(t *testing.T) {
	conn, _ := newTestConnection(t, []testutil.Option{testutil.WithChannelMax(2)})
	openTestChannel(t, conn)
	openTestChannel(t, conn)

	_, err := conn.OpenChannel(context.Background())
	var alloc *ChannelAllocationError
	require.ErrorAs(t, err, &alloc)
	assert.ErrorIs(t, err, testutil.ErrChannelsExhausted)
	assert.Len(t, conn.Channels(), 2)
}

func TestConnection_CloseCascadesToChannels(t *testing.T) {
	rec := metrics.NewMockRecorder()
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()}, WithMetrics(rec))
	ctx := context.Background()

	ch := openTestChannel(t, conn)
	other := openTestChannel(t, conn)
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))
	h, err := p.Publish(ctx, "", "nowhere", false, false, Publishing{Body: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.True(t, closed(conn.Done()))
	assert.ErrorIs(t, conn.Err(), ErrClosed)
	for _, c := range []*Channel{ch, other} {
		assert.True(t, closed(c.Done()))
		assert.ErrorIs(t, c.Err(), ErrClosed)
	}
	assert.Equal(t, OutcomeAbandoned, h.Outcome())
	assert.Empty(t, conn.Channels())

	_, err = conn.OpenChannel(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.Publish(ctx, "", "q", false, false, Publishing{})
	assert.ErrorIs(t, err, ErrClosed)

	assert.Contains(t, b.Received(0), amqp.Method(&amqp.ConnectionCloseMessage{ReplyCode: 200, ReplyText: "Goodbye"}))
	assert.Equal(t, 1, rec.Count("ConnectionClose"))
	assert.Equal(t, 2, rec.Count("ChannelClose"))
	assert.NoError(t, conn.Close(), "close is idempotent")
}

func TestConnection_TransportFailureAbandonsEverything(t *testing.T) {
	conn, b := newTestConnection(t, []testutil.Option{testutil.WithManualConfirms()})
	ctx := context.Background()
	ch := openTestChannel(t, conn)
	declareQueue(t, ch, "q")
	p := NewProducer(ch)
	require.NoError(t, p.SelectConfirms(ctx))
	h, err := p.Publish(ctx, "", "q", false, false, Publishing{Body: []byte("x")})
	require.NoError(t, err)

	b.Disconnect(io.ErrUnexpectedEOF)
	receive(t, conn.Done())

	var terr *TransportError
	require.ErrorAs(t, conn.Err(), &terr)
	assert.ErrorIs(t, conn.Err(), io.ErrUnexpectedEOF)

	<-ch.Done()
	assert.ErrorAs(t, ch.Err(), &terr)

	var abandoned *AbandonedError
	require.ErrorAs(t, h.Wait(ctx), &abandoned)
	assert.ErrorAs(t, abandoned.Cause, &terr)

	_, err = p.Publish(ctx, "", "q", false, false, Publishing{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConnection_BrokerClose(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)

	b.CloseConnection(amqp.CONNECTION_FORCED, "CONNECTION_FORCED - broker shutdown")
	receive(t, conn.Done())

	var ce *ConnectionError
	require.ErrorAs(t, conn.Err(), &ce)
	assert.Equal(t, uint16(amqp.CONNECTION_FORCED), ce.Code)
	assert.ErrorAs(t, ch.Err(), &ce)
	assert.Contains(t, b.Received(0), amqp.Method(&amqp.ConnectionCloseOkMessage{}))
}

func TestConnection_SendFailureIsFatal(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)

	sendErr := errors.New("broken pipe")
	b.FailSends(sendErr)
	err := NewTopology(ch).DeclareExchange(context.Background(), "x", amqp.EXCHANGE_FANOUT, false, false, false, nil)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, sendErr)
	assert.True(t, closed(conn.Done()))
	assert.ErrorIs(t, ch.Err(), sendErr)
}

func TestConnection_DropsFramesForUnknownChannels(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)

	b.Inject(amqp.CreateMethodFrame(42, &amqp.ChannelOpenOkMessage{}))
	b.Inject(amqp.CreateHeartbeatFrame())
	declareQueue(t, ch, "still-works")
	assert.Nil(t, conn.Err())
}
