package amqp

import (
	amqp091 "github.com/rabbitmq/amqp091-go"
)

type ExchangeDeclareMessage struct {
	ExchangeName string
	ExchangeType string
	Passive      bool
	Durable      bool
	AutoDelete   bool
	Internal     bool
	NoWait       bool
	Arguments    amqp091.Table
}

type ExchangeDeclareOkMessage struct{}

type ExchangeBindMessage struct {
	Destination string
	Source      string
	RoutingKey  string
	NoWait      bool
	Arguments   amqp091.Table
}

type ExchangeBindOkMessage struct{}

func (ExchangeDeclareMessage) ClassMethod() (uint16, uint16) {
	return uint16(EXCHANGE), uint16(EXCHANGE_DECLARE)
}

func (m ExchangeDeclareMessage) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.ExchangeName},
		KeyValue{Key: STRING_SHORT, Value: m.ExchangeType},
		KeyValue{Key: BIT, Value: m.Passive},
		KeyValue{Key: BIT, Value: m.Durable},
		KeyValue{Key: BIT, Value: m.AutoDelete},
		KeyValue{Key: BIT, Value: m.Internal},
		KeyValue{Key: BIT, Value: m.NoWait},
		KeyValue{Key: TABLE, Value: m.Arguments},
	)
}

func (ExchangeDeclareOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(EXCHANGE), uint16(EXCHANGE_DECLARE_OK)
}

func (ExchangeDeclareOkMessage) Content() ContentList { return ContentList{} }

func (ExchangeBindMessage) ClassMethod() (uint16, uint16) {
	return uint16(EXCHANGE), uint16(EXCHANGE_BIND)
}

func (m ExchangeBindMessage) Content() ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: uint16(0)}, // reserved-1
		KeyValue{Key: STRING_SHORT, Value: m.Destination},
		KeyValue{Key: STRING_SHORT, Value: m.Source},
		KeyValue{Key: STRING_SHORT, Value: m.RoutingKey},
		KeyValue{Key: BIT, Value: m.NoWait},
		KeyValue{Key: TABLE, Value: m.Arguments},
	)
}

func (ExchangeBindOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(EXCHANGE), uint16(EXCHANGE_BIND_OK)
}

func (ExchangeBindOkMessage) Content() ContentList { return ContentList{} }

func parseExchangeDeclareFrame(r *fieldReader) Method {
	r.short("reserved1")
	msg := &ExchangeDeclareMessage{
		ExchangeName: r.shortStr("exchange name"),
		ExchangeType: r.shortStr("exchange type"),
	}
	flags := r.flags("passive", "durable", "autoDelete", "internal", "noWait")
	msg.Passive = flags["passive"]
	msg.Durable = flags["durable"]
	msg.AutoDelete = flags["autoDelete"]
	msg.Internal = flags["internal"]
	msg.NoWait = flags["noWait"]
	msg.Arguments = r.table("arguments")
	return msg
}

func parseExchangeBindFrame(r *fieldReader) Method {
	r.short("reserved1")
	msg := &ExchangeBindMessage{
		Destination: r.shortStr("destination"),
		Source:      r.shortStr("source"),
		RoutingKey:  r.shortStr("routing key"),
	}
	msg.NoWait = r.flags("noWait")["noWait"]
	msg.Arguments = r.table("arguments")
	return msg
}

func init() {
	registerMethod(uint16(EXCHANGE), uint16(EXCHANGE_DECLARE), parseExchangeDeclareFrame)
	registerMethod(uint16(EXCHANGE), uint16(EXCHANGE_DECLARE_OK), func(*fieldReader) Method { return &ExchangeDeclareOkMessage{} })
	registerMethod(uint16(EXCHANGE), uint16(EXCHANGE_BIND), parseExchangeBindFrame)
	registerMethod(uint16(EXCHANGE), uint16(EXCHANGE_BIND_OK), func(*fieldReader) Method { return &ExchangeBindOkMessage{} })
}
