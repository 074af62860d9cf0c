package amqp

import (
	"bytes"
	"encoding/binary"
	"sort"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// encodeValueToBuffer encodes a single AMQP field value into the provided buffer
// by selecting the appropriate type encoding based on the value's Go type.
// Type tags follow the RabbitMQ field table dialect.
func encodeValueToBuffer(value any, buf *bytes.Buffer) {
	switch v := value.(type) {
	case nil:
		buf.WriteByte('V')

	case bool:
		buf.WriteByte('t')
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case int8:
		buf.WriteByte('b') // signed 8-bit
		_ = binary.Write(buf, binary.BigEndian, v)

	case uint8:
		buf.WriteByte('B') // unsigned 8-bit
		_ = binary.Write(buf, binary.BigEndian, v)

	case int16:
		buf.WriteByte('s') // signed 16-bit
		_ = binary.Write(buf, binary.BigEndian, v)

	case uint16:
		buf.WriteByte('u') // unsigned 16-bit
		_ = binary.Write(buf, binary.BigEndian, v)

	case int32:
		buf.WriteByte('I') // signed 32-bit
		_ = binary.Write(buf, binary.BigEndian, v)

	case uint32:
		buf.WriteByte('i') // unsigned 32-bit
		_ = binary.Write(buf, binary.BigEndian, v)

	case int:
		buf.WriteByte('l') // signed 64-bit
		_ = binary.Write(buf, binary.BigEndian, int64(v))

	case int64:
		buf.WriteByte('l')
		_ = binary.Write(buf, binary.BigEndian, v)

	case float32:
		buf.WriteByte('f')
		_ = binary.Write(buf, binary.BigEndian, v)

	case float64:
		buf.WriteByte('d')
		_ = binary.Write(buf, binary.BigEndian, v)

	case amqp091.Decimal:
		buf.WriteByte('D') // 1 byte scale + 4 byte value
		_ = binary.Write(buf, binary.BigEndian, v.Scale)
		_ = binary.Write(buf, binary.BigEndian, v.Value)

	case string:
		buf.WriteByte('S')
		EncodeLongStr(buf, []byte(v))

	case []byte:
		buf.WriteByte('x')
		EncodeLongStr(buf, v)

	case time.Time:
		buf.WriteByte('T')
		_ = binary.Write(buf, binary.BigEndian, uint64(v.Unix()))

	case amqp091.Table:
		buf.WriteByte('F')
		EncodeLongStr(buf, EncodeTable(v))

	case map[string]any:
		buf.WriteByte('F')
		EncodeLongStr(buf, EncodeTable(v))

	case []any:
		buf.WriteByte('A')
		EncodeLongStr(buf, EncodeArray(v))

	case []amqp091.Table:
		arr := make([]any, len(v))
		for i, item := range v {
			arr[i] = item
		}
		buf.WriteByte('A')
		EncodeLongStr(buf, EncodeArray(arr))

	case []string:
		arr := make([]any, len(v))
		for i, item := range v {
			arr[i] = item
		}
		buf.WriteByte('A')
		EncodeLongStr(buf, EncodeArray(arr))

	default:
		log.Warn().Interface("value", v).Msg("Unsupported AMQP field value type, encoding as null")
		buf.WriteByte('V')
	}
}

// EncodeTable encodes a field table. Keys are written in sorted order so the
// same table always produces the same bytes.
func EncodeTable(table map[string]any) []byte {
	var buf bytes.Buffer
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		log.Trace().Str("key", key).Interface("value", table[key]).Msg("Encoding table entry")
		EncodeShortStr(&buf, key)
		encodeValueToBuffer(table[key], &buf)
	}
	return buf.Bytes()
}

func EncodeArray(arr []any) []byte {
	var buf bytes.Buffer
	for _, value := range arr {
		encodeValueToBuffer(value, &buf)
	}
	return buf.Bytes()
}

func EncodeLongStr(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func EncodeShortStr(buf *bytes.Buffer, data string) {
	_ = buf.WriteByte(byte(len(data)))
	buf.WriteString(data)
}

func EncodeOctet(buf *bytes.Buffer, value uint8) error {
	return buf.WriteByte(value)
}

func EncodeTimestamp(buf *bytes.Buffer, value time.Time) error {
	return binary.Write(buf, binary.BigEndian, uint64(value.Unix()))
}

// EncodeSecurityPlain builds a SASL PLAIN response: "\x00user\x00password".
func EncodeSecurityPlain(username, password string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0)
	buf.WriteString(username)
	buf.WriteByte(0)
	buf.WriteString(password)
	return buf.Bytes()
}

// EncodeFlags encodes a map of boolean flags into a single byte
func EncodeFlags(flags map[string]bool, flagNames []string, lsbFirst bool) byte {
	var octet byte = 0
	for i, name := range flagNames {
		if flags[name] {
			if lsbFirst {
				octet |= 1 << i
			} else {
				octet |= 1 << (7 - i)
			}
		}
	}
	return octet
}
