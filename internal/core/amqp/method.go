package amqp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Method is a decoded or to-be-encoded method payload.
type Method interface {
	ClassMethod() (classID, methodID uint16)
	Content() ContentList
}

type ContentList struct {
	KeyValuePairs []KeyValue
}

// KeyValue is one method field; Key names the wire kind (INT_SHORT, BIT, ...).
type KeyValue struct {
	Key   string
	Value any
}

func fields(kv ...KeyValue) ContentList {
	return ContentList{KeyValuePairs: kv}
}

func methodKey(classID, methodID uint16) uint32 {
	return uint32(classID)<<16 | uint32(methodID)
}

// MethodName renders a class/method pair as "class.method-id" for logs and errors.
func MethodName(classID, methodID uint16) string {
	return fmt.Sprintf("%s.%d", TypeClass(classID), methodID)
}

type methodParser func(r *fieldReader) Method

var methodParsers = map[uint32]methodParser{}

func registerMethod(classID, methodID uint16, parse methodParser) {
	methodParsers[methodKey(classID, methodID)] = parse
}

// CarriesContent reports whether the method is followed by a content header
// and body frames.
func CarriesContent(classID, methodID uint16) bool {
	if classID != uint16(BASIC) {
		return false
	}
	switch BasicMethod(methodID) {
	case BASIC_PUBLISH, BASIC_RETURN, BASIC_DELIVER, BASIC_GET_OK:
		return true
	}
	return false
}

// formatMethodPayload writes the fields in order. Consecutive BIT fields share
// one octet, least significant bit first.
func formatMethodPayload(content ContentList) []byte {
	var payloadBuf bytes.Buffer
	var bits byte
	var nbits uint
	flush := func() {
		if nbits > 0 {
			payloadBuf.WriteByte(bits)
			bits, nbits = 0, 0
		}
	}
	for _, kv := range content.KeyValuePairs {
		if kv.Key == BIT {
			if nbits == 8 {
				flush()
			}
			if kv.Value.(bool) {
				bits |= 1 << nbits
			}
			nbits++
			continue
		}
		flush()
		switch kv.Key {
		case INT_OCTET:
			_ = binary.Write(&payloadBuf, binary.BigEndian, kv.Value.(uint8)) // Error ignored as bytes.Buffer.Write never fails
		case INT_SHORT:
			_ = binary.Write(&payloadBuf, binary.BigEndian, kv.Value.(uint16))
		case INT_LONG:
			_ = binary.Write(&payloadBuf, binary.BigEndian, kv.Value.(uint32))
		case INT_LONG_LONG:
			_ = binary.Write(&payloadBuf, binary.BigEndian, kv.Value.(uint64))
		case STRING_SHORT:
			EncodeShortStr(&payloadBuf, kv.Value.(string))
		case STRING_LONG:
			switch v := kv.Value.(type) {
			case string:
				EncodeLongStr(&payloadBuf, []byte(v))
			default:
				EncodeLongStr(&payloadBuf, kv.Value.([]byte))
			}
		case TIMESTAMP:
			_ = binary.Write(&payloadBuf, binary.BigEndian, kv.Value.(int64))
		case TABLE:
			var table map[string]any
			switch v := kv.Value.(type) {
			case amqp091.Table:
				table = v
			case map[string]any:
				table = v
			}
			EncodeLongStr(&payloadBuf, EncodeTable(table))
		}
	}
	flush()
	return payloadBuf.Bytes()
}

// fieldReader reads method fields in order. The first failure sticks and every
// later read returns the zero value.
type fieldReader struct {
	buf *bytes.Reader
	err error
}

func newFieldReader(payload []byte) *fieldReader {
	return &fieldReader{buf: bytes.NewReader(payload)}
}

func (r *fieldReader) fail(field string, err error) {
	if r.err == nil && err != nil {
		r.err = fmt.Errorf("failed to decode %s: %v", field, err)
	}
}

func (r *fieldReader) octet(field string) uint8 {
	if r.err != nil {
		return 0
	}
	v, err := DecodeOctet(r.buf)
	r.fail(field, err)
	return v
}

func (r *fieldReader) short(field string) uint16 {
	if r.err != nil {
		return 0
	}
	v, err := DecodeShortInt(r.buf)
	r.fail(field, err)
	return v
}

func (r *fieldReader) long(field string) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := DecodeLongUInt(r.buf)
	r.fail(field, err)
	return v
}

func (r *fieldReader) longlong(field string) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := DecodeLongLongUInt(r.buf)
	r.fail(field, err)
	return v
}

func (r *fieldReader) shortStr(field string) string {
	if r.err != nil {
		return ""
	}
	v, err := DecodeShortStr(r.buf)
	r.fail(field, err)
	return v
}

func (r *fieldReader) longStr(field string) []byte {
	if r.err != nil {
		return nil
	}
	v, err := decodeLongBytes(r.buf)
	r.fail(field, err)
	return v
}

func (r *fieldReader) table(field string) amqp091.Table {
	raw := r.longStr(field)
	if r.err != nil {
		return nil
	}
	t, err := DecodeTable(raw)
	r.fail(field, err)
	return t
}

// flags reads an octet of packed bits and names them.
func (r *fieldReader) flags(names ...string) map[string]bool {
	if r.err != nil {
		return map[string]bool{}
	}
	octet, err := r.buf.ReadByte()
	if err != nil {
		r.fail("flags", err)
		return map[string]bool{}
	}
	return DecodeFlags(octet, names, true)
}

func parseMethodPayload(classID, methodID uint16, payload []byte) (Method, error) {
	parse, ok := methodParsers[methodKey(classID, methodID)]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", MethodName(classID, methodID))
	}
	r := newFieldReader(payload)
	m := parse(r)
	if r.err != nil {
		return nil, fmt.Errorf("%s: %v", MethodName(classID, methodID), r.err)
	}
	return m, nil
}
