package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelError(t *testing.T) {
	err := NewChannelError("PRECONDITION_FAILED - inequivalent arg 'durable'", 406, 50, 10)
	assert.Equal(t, "AMQP Channel Error 406: PRECONDITION_FAILED - inequivalent arg 'durable' (class 50, method 10)", err.Error())
	assert.Equal(t, uint16(406), err.ReplyCode())
	assert.Equal(t, uint16(50), err.ClassID())
	assert.Equal(t, uint16(10), err.MethodID())

	var chErr *ChannelError
	assert.True(t, errors.As(err, &chErr))
	var connErr *ConnectionError
	assert.False(t, errors.As(err, &connErr))
}

func TestConnectionError(t *testing.T) {
	err := NewConnectionError("CONNECTION_FORCED - shutdown", 320, 0, 0)
	assert.Equal(t, "AMQP Connection Error 320: CONNECTION_FORCED - shutdown", err.Error())
	assert.Equal(t, "CONNECTION_FORCED - shutdown", err.ReplyText())

	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
}
