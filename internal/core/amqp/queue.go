package amqp

import (
	amqp091 "github.com/rabbitmq/amqp091-go"
)

type QueueDeclareMessage struct {
	QueueName  string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  amqp091.Table
}

type QueueDeclareOkMessage struct {
	QueueName     string
	MessageCount  uint32
	ConsumerCount uint32
}

type QueueBindMessage struct {
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  amqp091.Table
}

type QueueBindOkMessage struct{}

func (QueueDeclareMessage) ClassMethod() (uint16, uint16) {
	return uint16(QUEUE), uint16(QUEUE_DECLARE)
}

func (m QueueDeclareMessage) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.QueueName},
		KeyValue{Key: BIT, Value: m.Passive},
		KeyValue{Key: BIT, Value: m.Durable},
		KeyValue{Key: BIT, Value: m.Exclusive},
		KeyValue{Key: BIT, Value: m.AutoDelete},
		KeyValue{Key: BIT, Value: m.NoWait},
		KeyValue{Key: TABLE, Value: m.Arguments},
	)
}

func (QueueDeclareOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(QUEUE), uint16(QUEUE_DECLARE_OK)
}

func (m QueueDeclareOkMessage) Content() ContentList {
	return fields(
		KeyValue{Key: STRING_SHORT, Value: m.QueueName},
		KeyValue{Key: INT_LONG, Value: m.MessageCount},
		KeyValue{Key: INT_LONG, Value: m.ConsumerCount},
	)
}

func (QueueBindMessage) ClassMethod() (uint16, uint16) {
	return uint16(QUEUE), uint16(QUEUE_BIND)
}

func (m QueueBindMessage) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.Queue},
		KeyValue{Key: STRING_SHORT, Value: m.Exchange},
		KeyValue{Key: STRING_SHORT, Value: m.RoutingKey},
		KeyValue{Key: BIT, Value: m.NoWait},
		KeyValue{Key: TABLE, Value: m.Arguments},
	)
}

func (QueueBindOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(QUEUE), uint16(QUEUE_BIND_OK)
}

func (QueueBindOkMessage) Content() ContentList { return ContentList{} }

// parseQueueDeclareFrame parses a QUEUE_DECLARE payload.
func parseQueueDeclareFrame(r *fieldReader) Method {
	r.short("reserved1")
	msg := &QueueDeclareMessage{QueueName: r.shortStr("queue name")}
	flags := r.flags("passive", "durable", "exclusive", "autoDelete", "noWait")
	msg.Passive = flags["passive"]
	msg.Durable = flags["durable"]
	msg.Exclusive = flags["exclusive"]
	msg.AutoDelete = flags["autoDelete"]
	msg.NoWait = flags["noWait"]
	msg.Arguments = r.table("arguments")
	return msg
}

// parseQueueBindFrame parses a QUEUE_BIND payload.
func parseQueueBindFrame(r *fieldReader) Method {
	r.short("reserved1")
	msg := &QueueBindMessage{
		Queue:      r.shortStr("queue name"),
		Exchange:   r.shortStr("exchange name"),
		RoutingKey: r.shortStr("routing key"),
	}
	msg.NoWait = r.flags("noWait")["noWait"]
	msg.Arguments = r.table("arguments")
	return msg
}

func init() {
	registerMethod(uint16(QUEUE), uint16(QUEUE_DECLARE), parseQueueDeclareFrame)
	registerMethod(uint16(QUEUE), uint16(QUEUE_DECLARE_OK), func(r *fieldReader) Method {
		return &QueueDeclareOkMessage{
			QueueName:     r.shortStr("queue name"),
			MessageCount:  r.long("message count"),
			ConsumerCount: r.long("consumer count"),
		}
	})
	registerMethod(uint16(QUEUE), uint16(QUEUE_BIND), parseQueueBindFrame)
	registerMethod(uint16(QUEUE), uint16(QUEUE_BIND_OK), func(*fieldReader) Method { return &QueueBindOkMessage{} })
}
