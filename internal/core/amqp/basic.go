package amqp

import (
	"bytes"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

type BasicQosContent struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

type BasicQosOkContent struct{}

type BasicConsumeContent struct {
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   amqp091.Table
}

type BasicConsumeOkContent struct {
	ConsumerTag string
}

type BasicCancelContent struct {
	ConsumerTag string
	NoWait      bool
}

type BasicCancelOkContent struct {
	ConsumerTag string
}

type BasicPublishContent struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

type BasicReturnContent struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

type BasicDeliverContent struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

type BasicGetContent struct {
	Queue string
	NoAck bool
}

type BasicGetOkContent struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}

type BasicGetEmptyContent struct{}

type BasicAckContent struct {
	DeliveryTag uint64
	Multiple    bool
}

type BasicRejectContent struct {
	DeliveryTag uint64
	Requeue     bool
}

type BasicNackContent struct {
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

type BasicRecoverContent struct {
	Requeue bool
}

type BasicRecoverOkContent struct{}

type BasicProperties struct {
	ContentType     ContentType   // shortstr
	ContentEncoding string        // shortstr
	Headers         amqp091.Table // table
	DeliveryMode    DeliveryMode  // from octet: (1=non-persistent, 2=persistent)
	Priority        uint8         // octet
	CorrelationID   string        // shortstr
	ReplyTo         string        // shortstr
	Expiration      string        // shortstr
	MessageID       string        // shortstr
	Timestamp       time.Time     // timestamp (64 bits)
	Type            string        // shortsrt
	UserID          string        // shortstr
	AppID           string        // shortstr
	Reserved        string        // shortstr
}

type ContentType string

func basicMethod(m BasicMethod) (uint16, uint16) { return uint16(BASIC), uint16(m) }

func (BasicQosContent) ClassMethod() (uint16, uint16)       { return basicMethod(BASIC_QOS) }
func (BasicQosOkContent) ClassMethod() (uint16, uint16)     { return basicMethod(BASIC_QOS_OK) }
func (BasicConsumeContent) ClassMethod() (uint16, uint16)   { return basicMethod(BASIC_CONSUME) }
func (BasicConsumeOkContent) ClassMethod() (uint16, uint16) { return basicMethod(BASIC_CONSUME_OK) }
func (BasicCancelContent) ClassMethod() (uint16, uint16)    { return basicMethod(BASIC_CANCEL) }
func (BasicCancelOkContent) ClassMethod() (uint16, uint16)  { return basicMethod(BASIC_CANCEL_OK) }
func (BasicPublishContent) ClassMethod() (uint16, uint16)   { return basicMethod(BASIC_PUBLISH) }
func (BasicReturnContent) ClassMethod() (uint16, uint16)    { return basicMethod(BASIC_RETURN) }
func (BasicDeliverContent) ClassMethod() (uint16, uint16)   { return basicMethod(BASIC_DELIVER) }
func (BasicGetContent) ClassMethod() (uint16, uint16)       { return basicMethod(BASIC_GET) }
func (BasicGetOkContent) ClassMethod() (uint16, uint16)     { return basicMethod(BASIC_GET_OK) }
func (BasicGetEmptyContent) ClassMethod() (uint16, uint16)  { return basicMethod(BASIC_GET_EMPTY) }
func (BasicAckContent) ClassMethod() (uint16, uint16)       { return basicMethod(BASIC_ACK) }
func (BasicRejectContent) ClassMethod() (uint16, uint16)    { return basicMethod(BASIC_REJECT) }
func (BasicNackContent) ClassMethod() (uint16, uint16)      { return basicMethod(BASIC_NACK) }
func (BasicRecoverContent) ClassMethod() (uint16, uint16)   { return basicMethod(BASIC_RECOVER) }
func (BasicRecoverOkContent) ClassMethod() (uint16, uint16) { return basicMethod(BASIC_RECOVER_OK) }

func (m BasicQosContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_LONG, Value: m.PrefetchSize},
		KeyValue{Key: INT_SHORT, Value: m.PrefetchCount},
		KeyValue{Key: BIT, Value: m.Global},
	)
}

func (BasicQosOkContent) Content() ContentList { return ContentList{} }

func (m BasicConsumeContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.Queue},
		KeyValue{Key: STRING_SHORT, Value: m.ConsumerTag},
		KeyValue{Key: BIT, Value: m.NoLocal},
		KeyValue{Key: BIT, Value: m.NoAck},
		KeyValue{Key: BIT, Value: m.Exclusive},
		KeyValue{Key: BIT, Value: m.NoWait},
		KeyValue{Key: TABLE, Value: m.Arguments},
	)
}

func (m BasicConsumeOkContent) Content() ContentList {
	return fields(KeyValue{Key: STRING_SHORT, Value: m.ConsumerTag})
}

func (m BasicCancelContent) Content() ContentList {
	return fields(
		KeyValue{Key: STRING_SHORT, Value: m.ConsumerTag},
		KeyValue{Key: BIT, Value: m.NoWait},
	)
}

func (m BasicCancelOkContent) Content() ContentList {
	return fields(KeyValue{Key: STRING_SHORT, Value: m.ConsumerTag})
}

func (m BasicPublishContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.Exchange},
		KeyValue{Key: STRING_SHORT, Value: m.RoutingKey},
		KeyValue{Key: BIT, Value: m.Mandatory},
		KeyValue{Key: BIT, Value: m.Immediate},
	)
}

// Content of basic.return (50).
func (m BasicReturnContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: m.ReplyCode},
		KeyValue{Key: STRING_SHORT, Value: m.ReplyText},
		KeyValue{Key: STRING_SHORT, Value: m.Exchange},
		KeyValue{Key: STRING_SHORT, Value: m.RoutingKey},
	)
}

// Content of basic.deliver (60).
func (m BasicDeliverContent) Content() ContentList {
	return fields(
		KeyValue{Key: STRING_SHORT, Value: m.ConsumerTag},
		KeyValue{Key: INT_LONG_LONG, Value: m.DeliveryTag},
		KeyValue{Key: BIT, Value: m.Redelivered},
		KeyValue{Key: STRING_SHORT, Value: m.Exchange},
		KeyValue{Key: STRING_SHORT, Value: m.RoutingKey},
	)
}

func (m BasicGetContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.Queue},
		KeyValue{Key: BIT, Value: m.NoAck},
	)
}

func (m BasicGetOkContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_LONG_LONG, Value: m.DeliveryTag},
		KeyValue{Key: BIT, Value: m.Redelivered},
		KeyValue{Key: STRING_SHORT, Value: m.Exchange},
		KeyValue{Key: STRING_SHORT, Value: m.RoutingKey},
		KeyValue{Key: INT_LONG, Value: m.MessageCount},
	)
}

func (BasicGetEmptyContent) Content() ContentList {
	return fields(KeyValue{Key: STRING_SHORT, Value: ""}) // reserved-1
}

func (m BasicAckContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_LONG_LONG, Value: m.DeliveryTag},
		KeyValue{Key: BIT, Value: m.Multiple},
	)
}

func (m BasicRejectContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_LONG_LONG, Value: m.DeliveryTag},
		KeyValue{Key: BIT, Value: m.Requeue},
	)
}

func (m BasicNackContent) Content() ContentList {
	return fields(
		KeyValue{Key: INT_LONG_LONG, Value: m.DeliveryTag},
		KeyValue{Key: BIT, Value: m.Multiple},
		KeyValue{Key: BIT, Value: m.Requeue},
	)
}

func (m BasicRecoverContent) Content() ContentList {
	return fields(KeyValue{Key: BIT, Value: m.Requeue})
}

func (BasicRecoverOkContent) Content() ContentList { return ContentList{} }

func (props *BasicProperties) encodeBasicProperties() ([]byte, uint16, error) {
	var buf bytes.Buffer
	var flags uint16

	if props.ContentType != "" {
		flags |= (1 << 15)
		EncodeShortStr(&buf, string(props.ContentType))
	}
	if props.ContentEncoding != "" {
		flags |= (1 << 14)
		EncodeShortStr(&buf, props.ContentEncoding)
	}
	if props.Headers != nil {
		flags |= (1 << 13)
		EncodeLongStr(&buf, EncodeTable(props.Headers))
	}
	if props.DeliveryMode != 0 {
		if err := props.DeliveryMode.Validate(); err != nil {
			return nil, 0, err
		}
		flags |= (1 << 12)
		if err := EncodeOctet(&buf, uint8(props.DeliveryMode)); err != nil {
			return nil, 0, err
		}
	}
	if props.Priority != 0 {
		flags |= (1 << 11)
		if err := EncodeOctet(&buf, props.Priority); err != nil {
			return nil, 0, err
		}
	}
	if props.CorrelationID != "" {
		flags |= (1 << 10)
		EncodeShortStr(&buf, props.CorrelationID)
	}
	if props.ReplyTo != "" {
		flags |= (1 << 9)
		EncodeShortStr(&buf, props.ReplyTo)
	}
	if props.Expiration != "" {
		flags |= (1 << 8)
		EncodeShortStr(&buf, props.Expiration)
	}
	if props.MessageID != "" {
		flags |= (1 << 7)
		EncodeShortStr(&buf, props.MessageID)
	}
	if !props.Timestamp.IsZero() {
		flags |= (1 << 6)
		if err := EncodeTimestamp(&buf, props.Timestamp); err != nil {
			return nil, 0, err
		}
	}
	if props.Type != "" {
		flags |= (1 << 5)
		EncodeShortStr(&buf, props.Type)
	}
	if props.UserID != "" {
		flags |= (1 << 4)
		EncodeShortStr(&buf, props.UserID)
	}
	if props.AppID != "" {
		flags |= (1 << 3)
		EncodeShortStr(&buf, props.AppID)
	}
	if props.Reserved != "" {
		flags |= (1 << 2)
		EncodeShortStr(&buf, props.Reserved)
	}
	return buf.Bytes(), flags, nil
}

// decodeBasicProperties reads the property list announced by flags, highest
// bit first.
func decodeBasicProperties(flags uint16, buf *bytes.Reader) (*BasicProperties, error) {
	props := &BasicProperties{}
	r := &fieldReader{buf: buf}
	has := func(bit uint) bool { return flags&(1<<bit) != 0 }

	if has(15) {
		props.ContentType = ContentType(r.shortStr("content type"))
	}
	if has(14) {
		props.ContentEncoding = r.shortStr("content encoding")
	}
	if has(13) {
		props.Headers = r.table("headers")
	}
	if has(12) {
		props.DeliveryMode = DeliveryMode(r.octet("delivery mode"))
	}
	if has(11) {
		props.Priority = r.octet("priority")
	}
	if has(10) {
		props.CorrelationID = r.shortStr("correlation id")
	}
	if has(9) {
		props.ReplyTo = r.shortStr("reply to")
	}
	if has(8) {
		props.Expiration = r.shortStr("expiration")
	}
	if has(7) {
		props.MessageID = r.shortStr("message id")
	}
	if has(6) && r.err == nil {
		ts, err := DecodeTimestamp(buf)
		r.fail("timestamp", err)
		props.Timestamp = ts
	}
	if has(5) {
		props.Type = r.shortStr("type")
	}
	if has(4) {
		props.UserID = r.shortStr("user id")
	}
	if has(3) {
		props.AppID = r.shortStr("app id")
	}
	if has(2) {
		props.Reserved = r.shortStr("reserved")
	}
	if r.err != nil {
		return nil, r.err
	}
	return props, nil
}

// ClassID: short
// Weight: short
// Body Size: long long
// Properties flags: short
// Properties: as announced by the flags
func parseBasicHeader(headerPayload []byte) (*HeaderFrame, error) {
	buf := bytes.NewReader(headerPayload)
	classID, err := DecodeShortInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode class ID: %v", err)
	}
	if classID != uint16(BASIC) {
		return nil, fmt.Errorf("unknown class ID: %d", classID)
	}

	weight, err := DecodeShortInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode weight: %v", err)
	}
	if weight != 0 {
		return nil, fmt.Errorf("weight must be 0")
	}

	bodySize, err := DecodeLongLongUInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode body size: %v", err)
	}
	log.Trace().Uint64("body_size", bodySize).Msg("- HEADER -")

	shortFlags, err := DecodeShortInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode flags: %v", err)
	}
	properties, err := decodeBasicProperties(shortFlags, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode properties: %v", err)
	}
	return &HeaderFrame{
		ClassID:    classID,
		BodySize:   bodySize,
		Properties: properties,
	}, nil
}

func parseBasicConsumeFrame(r *fieldReader) Method {
	r.short("reserved1")
	msg := &BasicConsumeContent{
		Queue:       r.shortStr("queue name"),
		ConsumerTag: r.shortStr("consumer tag"),
	}
	flags := r.flags("noLocal", "noAck", "exclusive", "noWait")
	msg.NoLocal = flags["noLocal"]
	msg.NoAck = flags["noAck"]
	msg.Exclusive = flags["exclusive"]
	msg.NoWait = flags["noWait"]
	msg.Arguments = r.table("arguments")
	return msg
}

func parseBasicDeliverFrame(r *fieldReader) Method {
	msg := &BasicDeliverContent{
		ConsumerTag: r.shortStr("consumer tag"),
		DeliveryTag: r.longlong("delivery tag"),
	}
	msg.Redelivered = r.flags("redelivered")["redelivered"]
	msg.Exchange = r.shortStr("exchange")
	msg.RoutingKey = r.shortStr("routing key")
	return msg
}

func parseBasicGetOkFrame(r *fieldReader) Method {
	msg := &BasicGetOkContent{DeliveryTag: r.longlong("delivery tag")}
	msg.Redelivered = r.flags("redelivered")["redelivered"]
	msg.Exchange = r.shortStr("exchange")
	msg.RoutingKey = r.shortStr("routing key")
	msg.MessageCount = r.long("message count")
	return msg
}

func init() {
	reg := func(m BasicMethod, parse methodParser) { registerMethod(uint16(BASIC), uint16(m), parse) }

	reg(BASIC_QOS, func(r *fieldReader) Method {
		msg := &BasicQosContent{
			PrefetchSize:  r.long("prefetch size"),
			PrefetchCount: r.short("prefetch count"),
		}
		msg.Global = r.flags("global")["global"]
		return msg
	})
	reg(BASIC_QOS_OK, func(*fieldReader) Method { return &BasicQosOkContent{} })
	reg(BASIC_CONSUME, parseBasicConsumeFrame)
	reg(BASIC_CONSUME_OK, func(r *fieldReader) Method {
		return &BasicConsumeOkContent{ConsumerTag: r.shortStr("consumer tag")}
	})
	reg(BASIC_CANCEL, func(r *fieldReader) Method {
		msg := &BasicCancelContent{ConsumerTag: r.shortStr("consumer tag")}
		msg.NoWait = r.flags("noWait")["noWait"]
		return msg
	})
	reg(BASIC_CANCEL_OK, func(r *fieldReader) Method {
		return &BasicCancelOkContent{ConsumerTag: r.shortStr("consumer tag")}
	})
	reg(BASIC_PUBLISH, func(r *fieldReader) Method {
		r.short("reserved1")
		msg := &BasicPublishContent{
			Exchange:   r.shortStr("exchange"),
			RoutingKey: r.shortStr("routing key"),
		}
		flags := r.flags("mandatory", "immediate")
		msg.Mandatory = flags["mandatory"]
		msg.Immediate = flags["immediate"]
		return msg
	})
	reg(BASIC_RETURN, func(r *fieldReader) Method {
		return &BasicReturnContent{
			ReplyCode:  r.short("reply code"),
			ReplyText:  r.shortStr("reply text"),
			Exchange:   r.shortStr("exchange"),
			RoutingKey: r.shortStr("routing key"),
		}
	})
	reg(BASIC_DELIVER, parseBasicDeliverFrame)
	reg(BASIC_GET, func(r *fieldReader) Method {
		r.short("reserved1")
		msg := &BasicGetContent{Queue: r.shortStr("queue name")}
		msg.NoAck = r.flags("noAck")["noAck"]
		return msg
	})
	reg(BASIC_GET_OK, parseBasicGetOkFrame)
	reg(BASIC_GET_EMPTY, func(r *fieldReader) Method {
		r.shortStr("reserved1")
		return &BasicGetEmptyContent{}
	})
	reg(BASIC_ACK, func(r *fieldReader) Method {
		msg := &BasicAckContent{DeliveryTag: r.longlong("delivery tag")}
		msg.Multiple = r.flags("multiple")["multiple"]
		return msg
	})
	reg(BASIC_REJECT, func(r *fieldReader) Method {
		msg := &BasicRejectContent{DeliveryTag: r.longlong("delivery tag")}
		msg.Requeue = r.flags("requeue")["requeue"]
		return msg
	})
	reg(BASIC_NACK, func(r *fieldReader) Method {
		msg := &BasicNackContent{DeliveryTag: r.longlong("delivery tag")}
		flags := r.flags("multiple", "requeue")
		msg.Multiple = flags["multiple"]
		msg.Requeue = flags["requeue"]
		return msg
	})
	reg(BASIC_RECOVER, func(r *fieldReader) Method {
		return &BasicRecoverContent{Requeue: r.flags("requeue")["requeue"]}
	})
	reg(BASIC_RECOVER_OK, func(*fieldReader) Method { return &BasicRecoverOkContent{} })
}
