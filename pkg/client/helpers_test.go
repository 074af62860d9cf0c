package client

import (
	"context"
	"testing"
	"time"

	"github.com/ottermq/otterclient/internal/testutil"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

func newTestConnection(t *testing.T, brokerOpts []testutil.Option, opts ...Option) (*Connection, *testutil.FakeBroker) {
	t.Helper()
	b := testutil.NewFakeBroker(brokerOpts...)
	opts = append([]Option{
		WithRPCTimeout(eventually),
		WithConfirmTimeout(eventually),
		WithCloseTimeout(time.Second),
	}, opts...)
	conn := NewConnection(b, opts...)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, b
}

func openTestChannel(t *testing.T, conn *Connection) *Channel {
	t.Helper()
	ch, err := conn.OpenChannel(context.Background())
	require.NoError(t, err)
	return ch
}

func declareQueue(t *testing.T, ch *Channel, name string) {
	t.Helper()
	_, err := NewTopology(ch).DeclareQueue(context.Background(), name, false, false, false, nil)
	require.NoError(t, err)
}

func collect[T any](n int) (chan T, func(T)) {
	c := make(chan T, n)
	return c, func(v T) { c <- v }
}

func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(eventually):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func closed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
