package amqp

import (
	"testing"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTableScalars(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	table := amqp091.Table{
		"bool":    true,
		"int8":    int8(-3),
		"uint8":   uint8(200),
		"int16":   int16(-300),
		"uint16":  uint16(60000),
		"int32":   int32(-70000),
		"uint32":  uint32(4000000000),
		"int64":   int64(-1 << 40),
		"int":     42,
		"float32": float32(1.5),
		"float64": 2.25,
		"decimal": amqp091.Decimal{Scale: 2, Value: 12345},
		"string":  "hello",
		"bytes":   []byte{0x01, 0x02},
		"time":    ts,
		"void":    nil,
	}

	decoded, err := DecodeTable(EncodeTable(table))
	require.NoError(t, err)

	assert.Equal(t, true, decoded["bool"])
	assert.Equal(t, int8(-3), decoded["int8"])
	assert.Equal(t, uint8(200), decoded["uint8"])
	assert.Equal(t, int16(-300), decoded["int16"])
	assert.Equal(t, uint16(60000), decoded["uint16"])
	assert.Equal(t, int32(-70000), decoded["int32"])
	assert.Equal(t, uint32(4000000000), decoded["uint32"])
	assert.Equal(t, int64(-1<<40), decoded["int64"])
	assert.Equal(t, int64(42), decoded["int"], "int is widened to a signed 64-bit field")
	assert.Equal(t, float32(1.5), decoded["float32"])
	assert.Equal(t, 2.25, decoded["float64"])
	assert.Equal(t, amqp091.Decimal{Scale: 2, Value: 12345}, decoded["decimal"])
	assert.Equal(t, "hello", decoded["string"])
	assert.Equal(t, []byte{0x01, 0x02}, decoded["bytes"])
	assert.True(t, ts.Equal(decoded["time"].(time.Time)))
	v, ok := decoded["void"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestEncodeDecodeNestedTables(t *testing.T) {
	headers := amqp091.Table{
		"x-death": []amqp091.Table{{
			"queue":        "test-queue",
			"reason":       "rejected",
			"count":        int64(1),
			"routing-keys": []string{"key1", "key2"},
		}},
		"x-match": "all",
		"nested":  map[string]any{"inner": amqp091.Table{"depth": int32(2)}},
		"mixed":   []any{"a", int32(1), true},
	}

	decoded, err := DecodeTable(EncodeTable(headers))
	require.NoError(t, err)

	xDeath, ok := decoded["x-death"].([]any)
	require.True(t, ok, "x-death should be decoded as []any")
	require.Len(t, xDeath, 1)
	entry, ok := xDeath[0].(amqp091.Table)
	require.True(t, ok, "x-death entry should be a table")
	assert.Equal(t, "test-queue", entry["queue"])
	assert.Equal(t, int64(1), entry["count"])
	assert.Equal(t, []any{"key1", "key2"}, entry["routing-keys"])

	nested := decoded["nested"].(amqp091.Table)
	assert.Equal(t, int32(2), nested["inner"].(amqp091.Table)["depth"])
	assert.Equal(t, []any{"a", int32(1), true}, decoded["mixed"])
}

func TestEncodeTableIsDeterministic(t *testing.T) {
	table := amqp091.Table{"b": "2", "a": "1", "c": int32(3)}
	first := EncodeTable(table)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EncodeTable(table))
	}
}

func TestDecodeTableErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated name", []byte{5, 'a', 'b'}},
		{"unknown type", []byte{1, 'k', '?'}},
		{"long string overrun", []byte{1, 'k', 'S', 0, 0, 0, 9, 'x'}},
		{"missing value", []byte{1, 'k', 'I', 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTable(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestSecurityPlain(t *testing.T) {
	resp := EncodeSecurityPlain("guest", "s3cret")
	assert.Equal(t, []byte("\x00guest\x00s3cret"), resp)

	user, pass, err := DecodeSecurityPlain(resp)
	require.NoError(t, err)
	assert.Equal(t, "guest", user)
	assert.Equal(t, "s3cret", pass)

	_, _, err = DecodeSecurityPlain([]byte("guest"))
	assert.Error(t, err)
}
