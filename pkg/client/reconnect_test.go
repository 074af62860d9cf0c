package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
	"github.com/ottermq/otterclient/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = ReconnectPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxElapsed: time.Second}

func TestRedial_RetriesUntilDialSucceeds(t *testing.T) {
	attempts := 0
	dial := func(context.Context) (Transport, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return testutil.NewFakeBroker(), nil
	}

	conn, err := Redial(context.Background(), dial, fastPolicy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, 3, attempts)
	openTestChannel(t, conn)
}

func TestRedial_StopsOnPermanentRefusal(t *testing.T) {
	attempts := 0
	dial := func(context.Context) (Transport, error) {
		attempts++
		return nil, amqperrors.NewConnectionError("ACCESS_REFUSED - bad credentials", uint16(amqp.ACCESS_REFUSED), 10, 11)
	}

	_, err := Redial(context.Background(), dial, fastPolicy)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint16(amqp.ACCESS_REFUSED), ce.Code)
	assert.Equal(t, 1, attempts)
}

func TestRedial_GivesUpWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	dial := func(context.Context) (Transport, error) { return nil, errors.New("unreachable") }

	_, err := Redial(ctx, dial, ReconnectPolicy{Initial: time.Millisecond, Max: 2 * time.Millisecond})
	require.Error(t, err)
}
