package amqp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DecodeTable decodes an AMQP field table from a byte slice
func DecodeTable(data []byte) (amqp091.Table, error) {
	table := make(amqp091.Table)
	buf := bytes.NewReader(data)

	for buf.Len() > 0 {
		fieldName, err := DecodeShortStr(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to decode field name: %v", err)
		}
		value, err := decodeFieldValue(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %v", fieldName, err)
		}
		table[fieldName] = value
	}
	return table, nil
}

// DecodeArray decodes the payload of an 'A' field value.
func DecodeArray(data []byte) ([]any, error) {
	arr := []any{}
	buf := bytes.NewReader(data)
	for buf.Len() > 0 {
		value, err := decodeFieldValue(buf)
		if err != nil {
			return nil, err
		}
		arr = append(arr, value)
	}
	return arr, nil
}

func decodeFieldValue(buf *bytes.Reader) (any, error) {
	fieldType, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}

	switch fieldType {
	case 't':
		return DecodeBoolean(buf)

	case 'b': // signed 8-bit
		var v int8
		err := binary.Read(buf, binary.BigEndian, &v)
		return v, err

	case 'B': // unsigned 8-bit
		var v uint8
		err := binary.Read(buf, binary.BigEndian, &v)
		return v, err

	case 's', 'U': // signed 16-bit
		var v int16
		err := binary.Read(buf, binary.BigEndian, &v)
		return v, err

	case 'u': // unsigned 16-bit
		return DecodeShortInt(buf)

	case 'I': // signed 32-bit
		return DecodeLongInt(buf)

	case 'i': // unsigned 32-bit
		return DecodeLongUInt(buf)

	case 'l', 'L': // signed 64-bit
		return DecodeLongLongInt(buf)

	case 'f':
		var v float32
		err := binary.Read(buf, binary.BigEndian, &v)
		return v, err

	case 'd':
		var v float64
		err := binary.Read(buf, binary.BigEndian, &v)
		return v, err

	case 'D': // 1 byte scale + 4 bytes value
		var d amqp091.Decimal
		if err := binary.Read(buf, binary.BigEndian, &d.Scale); err != nil {
			return nil, err
		}
		if err := binary.Read(buf, binary.BigEndian, &d.Value); err != nil {
			return nil, err
		}
		return d, nil

	case 'S':
		return DecodeLongStr(buf)

	case 'x':
		return decodeLongBytes(buf)

	case 'A':
		data, err := decodeLongBytes(buf)
		if err != nil {
			return nil, err
		}
		return DecodeArray(data)

	case 'T':
		return DecodeTimestamp(buf)

	case 'F':
		data, err := decodeLongBytes(buf)
		if err != nil {
			return nil, err
		}
		return DecodeTable(data)

	case 'V':
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown field type: %c", fieldType)
	}
}

// DecodeTimestamp reads and decodes a 64-bit POSIX timestamp from a bytes.Reader
func DecodeTimestamp(buf *bytes.Reader) (time.Time, error) {
	var timestamp int64
	err := binary.Read(buf, binary.BigEndian, &timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode timestamp: %v", err)
	}
	return time.Unix(timestamp, 0), nil
}

func decodeLongBytes(buf *bytes.Reader) ([]byte, error) {
	var strLen uint32
	if err := binary.Read(buf, binary.BigEndian, &strLen); err != nil {
		return nil, err
	}
	if uint32(buf.Len()) < strLen {
		log.Debug().Int("buf_len", buf.Len()).Uint32("want", strLen).Msg("Long string overruns payload")
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, strLen)
	if _, err := io.ReadFull(buf, data); err != nil {
		return nil, err
	}
	return data, nil
}

func DecodeLongStr(buf *bytes.Reader) (string, error) {
	data, err := decodeLongBytes(buf)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DecodeShortStr(buf *bytes.Reader) (string, error) {
	strLen, err := buf.ReadByte()
	if err != nil {
		return "", err
	}
	strData := make([]byte, strLen)
	if _, err := io.ReadFull(buf, strData); err != nil {
		return "", err
	}
	return string(strData), nil
}

func DecodeOctet(buf *bytes.Reader) (uint8, error) {
	return buf.ReadByte()
}

func DecodeShortInt(buf *bytes.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(buf, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func DecodeLongInt(buf *bytes.Reader) (int32, error) {
	var longIntValue int32
	if err := binary.Read(buf, binary.BigEndian, &longIntValue); err != nil {
		return 0, err
	}
	return longIntValue, nil
}

func DecodeLongUInt(buf *bytes.Reader) (uint32, error) {
	var value uint32
	err := binary.Read(buf, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func DecodeLongLongInt(buf *bytes.Reader) (int64, error) {
	var longLongInt int64
	if err := binary.Read(buf, binary.BigEndian, &longLongInt); err != nil {
		return 0, err
	}
	return longLongInt, nil
}

func DecodeLongLongUInt(buf *bytes.Reader) (uint64, error) {
	var value uint64
	err := binary.Read(buf, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func DecodeBoolean(buf *bytes.Reader) (bool, error) {
	var value uint8
	err := binary.Read(buf, binary.BigEndian, &value)
	if err != nil {
		return false, err
	}
	return value != 0, nil
}

// DecodeFlags decodes an octet into a map of flag names to boolean values.
func DecodeFlags(octet byte, flagNames []string, lsbFirst bool) map[string]bool {
	if len(flagNames) > 8 {
		log.Warn().Msg("More than 8 flag names provided; extra names will be ignored")
	}
	flags := make(map[string]bool)
	for i := 0; i < min(len(flagNames), 8); i++ {
		bit := i
		if !lsbFirst {
			bit = 7 - i
		}
		flags[flagNames[i]] = (octet & (1 << uint(bit))) != 0
	}
	return flags
}

// DecodeSecurityPlain splits a SASL PLAIN response into username and password.
func DecodeSecurityPlain(response []byte) (string, string, error) {
	parts := bytes.SplitN(response, []byte{0}, 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed PLAIN response")
	}
	return string(parts[1]), string(parts[2]), nil
}
