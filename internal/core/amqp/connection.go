package amqp

import (
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// ClassID: 10 (connection) |
// MethodID: 10 (start)
type ConnectionStartMessage struct {
	VersionMajor     uint8
	VersionMinor     uint8
	ServerProperties amqp091.Table
	Mechanisms       string
	Locales          string
}

// MethodID: 11 (start-ok)
type ConnectionStartOkMessage struct {
	ClientProperties amqp091.Table
	Mechanism        string
	Response         []byte
	Locale           string
}

// MethodID: 30 (tune)
type ConnectionTuneMessage struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// MethodID: 31 (tune-ok)
type ConnectionTuneOkMessage struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// MethodID: 40 (open)
type ConnectionOpenMessage struct {
	VirtualHost string
}

// MethodID: 41 (open-ok)
type ConnectionOpenOkMessage struct{}

// MethodID: 50 (close)
type ConnectionCloseMessage struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

// MethodID: 51 (close-ok)
type ConnectionCloseOkMessage struct{}

func (ConnectionStartMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_START)
}

func (m ConnectionStartMessage) Content() ContentList {
	return fields(
		KeyValue{Key: INT_OCTET, Value: m.VersionMajor},
		KeyValue{Key: INT_OCTET, Value: m.VersionMinor},
		KeyValue{Key: TABLE, Value: m.ServerProperties},
		KeyValue{Key: STRING_LONG, Value: m.Mechanisms},
		KeyValue{Key: STRING_LONG, Value: m.Locales},
	)
}

func (ConnectionStartOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_START_OK)
}

func (m ConnectionStartOkMessage) Content() ContentList {
	return fields(
		KeyValue{Key: TABLE, Value: m.ClientProperties},
		KeyValue{Key: STRING_SHORT, Value: m.Mechanism},
		KeyValue{Key: STRING_LONG, Value: m.Response},
		KeyValue{Key: STRING_SHORT, Value: m.Locale},
	)
}

func (ConnectionTuneMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_TUNE)
}

func (m ConnectionTuneMessage) Content() ContentList {
	return tuneFields(m.ChannelMax, m.FrameMax, m.Heartbeat)
}

func (ConnectionTuneOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_TUNE_OK)
}

func (m ConnectionTuneOkMessage) Content() ContentList {
	return tuneFields(m.ChannelMax, m.FrameMax, m.Heartbeat)
}

func tuneFields(channelMax uint16, frameMax uint32, heartbeat uint16) ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: channelMax},
		KeyValue{Key: INT_LONG, Value: frameMax},
		KeyValue{Key: INT_SHORT, Value: heartbeat},
	)
}

func (ConnectionOpenMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_OPEN)
}

func (m ConnectionOpenMessage) Content() ContentList {
	return fields(
		KeyValue{Key: STRING_SHORT, Value: m.VirtualHost},
		KeyValue{Key: STRING_SHORT, Value: ""}, // reserved-1
		KeyValue{Key: BIT, Value: false},       // reserved-2
	)
}

func (ConnectionOpenOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_OPEN_OK)
}

func (ConnectionOpenOkMessage) Content() ContentList {
	return fields(KeyValue{Key: STRING_SHORT, Value: ""}) // reserved-1
}

func (ConnectionCloseMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_CLOSE)
}

func (m ConnectionCloseMessage) Content() ContentList {
	return closeFields(m.ReplyCode, m.ReplyText, m.ClassID, m.MethodID)
}

func (ConnectionCloseOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CONNECTION), uint16(CONNECTION_CLOSE_OK)
}

func (ConnectionCloseOkMessage) Content() ContentList { return ContentList{} }

// NegotiateTune picks the tune-ok values from the client's wishes and the
// server's tune. Zero means "no limit" on either side.
func NegotiateTune(client ConnectionTuneOkMessage, server *ConnectionTuneMessage) ConnectionTuneOkMessage {
	return ConnectionTuneOkMessage{
		ChannelMax: pickShort(client.ChannelMax, server.ChannelMax),
		FrameMax:   pickLong(client.FrameMax, server.FrameMax),
		Heartbeat:  pickShort(client.Heartbeat, server.Heartbeat),
	}
}

func pickShort(client, server uint16) uint16 {
	if client == 0 || server == 0 {
		return max(client, server)
	}
	return min(client, server)
}

func pickLong(client, server uint32) uint32 {
	if client == 0 || server == 0 {
		return max(client, server)
	}
	return min(client, server)
}

func init() {
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_START), func(r *fieldReader) Method {
		return &ConnectionStartMessage{
			VersionMajor:     r.octet("version major"),
			VersionMinor:     r.octet("version minor"),
			ServerProperties: r.table("server properties"),
			Mechanisms:       string(r.longStr("mechanisms")),
			Locales:          string(r.longStr("locales")),
		}
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_START_OK), func(r *fieldReader) Method {
		return &ConnectionStartOkMessage{
			ClientProperties: r.table("client properties"),
			Mechanism:        r.shortStr("mechanism"),
			Response:         r.longStr("response"),
			Locale:           r.shortStr("locale"),
		}
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_TUNE), func(r *fieldReader) Method {
		return &ConnectionTuneMessage{
			ChannelMax: r.short("channel max"),
			FrameMax:   r.long("frame max"),
			Heartbeat:  r.short("heartbeat"),
		}
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_TUNE_OK), func(r *fieldReader) Method {
		return &ConnectionTuneOkMessage{
			ChannelMax: r.short("channel max"),
			FrameMax:   r.long("frame max"),
			Heartbeat:  r.short("heartbeat"),
		}
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_OPEN), func(r *fieldReader) Method {
		m := &ConnectionOpenMessage{VirtualHost: r.shortStr("virtual host")}
		r.shortStr("reserved1")
		r.flags("reserved2")
		return m
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_OPEN_OK), func(r *fieldReader) Method {
		r.shortStr("reserved1")
		return &ConnectionOpenOkMessage{}
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_CLOSE), func(r *fieldReader) Method {
		return &ConnectionCloseMessage{
			ReplyCode: r.short("reply code"),
			ReplyText: r.shortStr("reply text"),
			ClassID:   r.short("class id"),
			MethodID:  r.short("method id"),
		}
	})
	registerMethod(uint16(CONNECTION), uint16(CONNECTION_CLOSE_OK), func(*fieldReader) Method { return &ConnectionCloseOkMessage{} })
}
