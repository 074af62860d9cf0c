package client

import (
	"context"
	"testing"

	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopology_RedeclareIsIdempotent(t *testing.T) {
	conn, _ := newTestConnection(t, nil)
	topo := NewTopology(openTestChannel(t, conn))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, topo.DeclareExchange(ctx, "events", amqp.EXCHANGE_TOPIC, true, false, false, nil))
		_, err := topo.DeclareQueue(ctx, "audit", true, false, false, nil)
		require.NoError(t, err)
		require.NoError(t, topo.BindQueue(ctx, "audit", "events", "order.*", nil))
	}

	decls := topo.Declarations()
	require.Len(t, decls, 3)
	assert.Equal(t, DeclareExchangeKind, decls[0].Kind)
	assert.Equal(t, DeclareQueueKind, decls[1].Kind)
	assert.Equal(t, Declaration{Kind: BindQueueKind, Name: "audit", Source: "events", RoutingKey: "order.*"}, decls[2])
}

func TestTopology_ConflictingRedeclare(t *testing.T) {
	tests := []struct {
		name    string
		declare func(ctx context.Context, topo *Topology) error
		entity  string
	}{
		{
			name: "exchange type",
			declare: func(ctx context.Context, topo *Topology) error {
				if err := topo.DeclareExchange(ctx, "ex", amqp.EXCHANGE_DIRECT, true, false, false, nil); err != nil {
					return err
				}
				return topo.DeclareExchange(ctx, "ex", amqp.EXCHANGE_FANOUT, true, false, false, nil)
			},
			entity: "ex",
		},
		{
			name: "queue durability",
			declare: func(ctx context.Context, topo *Topology) error {
				if _, err := topo.DeclareQueue(ctx, "q", true, false, false, nil); err != nil {
					return err
				}
				_, err := topo.DeclareQueue(ctx, "q", false, false, false, nil)
				return err
			},
			entity: "q",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _ := newTestConnection(t, nil)
			ch := openTestChannel(t, conn)
			other := openTestChannel(t, conn)
			topo := NewTopology(ch)

			err := tt.declare(context.Background(), topo)
			var decl *DeclarationError
			require.ErrorAs(t, err, &decl)
			assert.Equal(t, uint16(amqp.PRECONDITION_FAILED), decl.Code)
			assert.Equal(t, tt.entity, decl.Name)
			assert.Contains(t, decl.Reason, "inequivalent arg")

			receive(t, ch.Done())
			assert.Len(t, topo.Declarations(), 1)
			assert.Nil(t, other.Err())
		})
	}
}

func TestTopology_MissingEntities(t *testing.T) {
	conn, _ := newTestConnection(t, nil)
	ctx := context.Background()

	err := NewTopology(openTestChannel(t, conn)).BindQueue(ctx, "q", "no-such-exchange", "", nil)
	var decl *DeclarationError
	require.ErrorAs(t, err, &decl)
	assert.Equal(t, uint16(amqp.NOT_FOUND), decl.Code)

	err = NewTopology(openTestChannel(t, conn)).BindExchange(ctx, "dest", "amq.fanout", "", nil)
	require.ErrorAs(t, err, &decl)
	assert.Equal(t, uint16(amqp.NOT_FOUND), decl.Code)
	assert.Equal(t, "dest", decl.Name)
}

func TestTopology_ClientSideValidation(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	topo := NewTopology(ch)
	ctx := context.Background()
	sent := len(b.Received(ch.ID()))

	var decl *DeclarationError
	require.ErrorAs(t, topo.DeclareExchange(ctx, "x", "bogus", false, false, false, nil), &decl)
	assert.Equal(t, uint16(amqp.COMMAND_INVALID), decl.Code)

	_, err := topo.DeclareQueue(ctx, "q", false, false, false, Table{"x-bad": []int{1}})
	require.ErrorAs(t, err, &decl)
	assert.Equal(t, uint16(amqp.SYNTAX_ERROR), decl.Code)

	assert.Len(t, b.Received(ch.ID()), sent)
	assert.Nil(t, ch.Err())
}

func TestTopology_ServerNamedQueue(t *testing.T) {
	conn, _ := newTestConnection(t, nil)
	topo := NewTopology(openTestChannel(t, conn))

	info, err := topo.DeclareQueue(context.Background(), "", false, true, true, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Name)
	decls := topo.Declarations()
	require.Len(t, decls, 1)
	assert.True(t, decls[0].ServerNamed)
	assert.Equal(t, info.Name, decls[0].Name)
}

func TestTopology_ExchangeToExchangeRouting(t *testing.T) {
	conn, b := newTestConnection(t, nil)
	ch := openTestChannel(t, conn)
	topo := NewTopology(ch)
	ctx := context.Background()

	require.NoError(t, topo.DeclareExchange(ctx, "front", amqp.EXCHANGE_FANOUT, false, false, false, nil))
	require.NoError(t, topo.DeclareExchange(ctx, "back", amqp.EXCHANGE_DIRECT, false, false, false, nil))
	require.NoError(t, topo.BindExchange(ctx, "back", "front", "", nil))
	_, err := topo.DeclareQueue(ctx, "sink", false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, topo.BindQueue(ctx, "sink", "back", "key", nil))

	_, err = NewProducer(ch).Publish(ctx, "front", "key", false, false, Publishing{Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, b.QueueDepth("sink"))
}

func TestTopology_Restore(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection(t, nil)
	topo := NewTopology(openTestChannel(t, conn))
	require.NoError(t, topo.DeclareExchange(ctx, "logs", amqp.EXCHANGE_FANOUT, true, false, false, nil))
	info, err := topo.DeclareQueue(ctx, "", false, true, true, nil)
	require.NoError(t, err)
	require.NoError(t, topo.BindQueue(ctx, info.Name, "logs", "", nil))

	fresh, b := newTestConnection(t, nil)
	ch := openTestChannel(t, fresh)
	// Take the first generated name so the restored queue gets a new one.
	_, err = NewTopology(ch).DeclareQueue(ctx, "", false, false, false, nil)
	require.NoError(t, err)

	restored, err := topo.Restore(ctx, ch)
	require.NoError(t, err)
	decls := restored.Declarations()
	require.Len(t, decls, 3)
	newName := decls[1].Name
	assert.NotEqual(t, info.Name, newName)
	assert.True(t, decls[1].ServerNamed)
	assert.Equal(t, newName, decls[2].Name, "the binding follows the new queue name")

	_, err = NewProducer(ch).Publish(ctx, "logs", "", false, false, Publishing{Body: []byte("line")})
	require.NoError(t, err)
	assert.Equal(t, 1, b.QueueDepth(newName))
}
