package amqp

type ChannelOpenMessage struct{}

type ChannelOpenOkMessage struct{}

type ChannelFlowMessage struct {
	Active bool
}

type ChannelFlowOkMessage struct {
	Active bool
}

type ChannelCloseMessage struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

type ChannelCloseOkMessage struct{}

func (ChannelOpenMessage) ClassMethod() (uint16, uint16) {
	return uint16(CHANNEL), uint16(CHANNEL_OPEN)
}

func (ChannelOpenMessage) Content() ContentList {
	return fields(KeyValue{Key: STRING_SHORT, Value: ""}) // reserved-1
}

func (ChannelOpenOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CHANNEL), uint16(CHANNEL_OPEN_OK)
}

func (ChannelOpenOkMessage) Content() ContentList {
	return fields(KeyValue{Key: STRING_LONG, Value: []byte{}}) // reserved-1
}

func (ChannelFlowMessage) ClassMethod() (uint16, uint16) {
	return uint16(CHANNEL), uint16(CHANNEL_FLOW)
}

func (m ChannelFlowMessage) Content() ContentList {
	return fields(KeyValue{Key: BIT, Value: m.Active})
}

func (ChannelFlowOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CHANNEL), uint16(CHANNEL_FLOW_OK)
}

func (m ChannelFlowOkMessage) Content() ContentList {
	return fields(KeyValue{Key: BIT, Value: m.Active})
}

func (ChannelCloseMessage) ClassMethod() (uint16, uint16) {
	return uint16(CHANNEL), uint16(CHANNEL_CLOSE)
}

func (m ChannelCloseMessage) Content() ContentList {
	return closeFields(m.ReplyCode, m.ReplyText, m.ClassID, m.MethodID)
}

func (ChannelCloseOkMessage) ClassMethod() (uint16, uint16) {
	return uint16(CHANNEL), uint16(CHANNEL_CLOSE_OK)
}

func (ChannelCloseOkMessage) Content() ContentList { return ContentList{} }

func closeFields(replyCode uint16, replyText string, classID, methodID uint16) ContentList {
	return fields(
		KeyValue{Key: INT_SHORT, Value: replyCode},
		KeyValue{Key: STRING_SHORT, Value: replyText},
		KeyValue{Key: INT_SHORT, Value: classID},
		KeyValue{Key: INT_SHORT, Value: methodID},
	)
}

func init() {
	registerMethod(uint16(CHANNEL), uint16(CHANNEL_OPEN), func(r *fieldReader) Method {
		r.shortStr("reserved1")
		return &ChannelOpenMessage{}
	})
	registerMethod(uint16(CHANNEL), uint16(CHANNEL_OPEN_OK), func(r *fieldReader) Method {
		r.longStr("reserved1")
		return &ChannelOpenOkMessage{}
	})
	registerMethod(uint16(CHANNEL), uint16(CHANNEL_FLOW), func(r *fieldReader) Method {
		return &ChannelFlowMessage{Active: r.flags("active")["active"]}
	})
	registerMethod(uint16(CHANNEL), uint16(CHANNEL_FLOW_OK), func(r *fieldReader) Method {
		return &ChannelFlowOkMessage{Active: r.flags("active")["active"]}
	})
	registerMethod(uint16(CHANNEL), uint16(CHANNEL_CLOSE), func(r *fieldReader) Method {
		return &ChannelCloseMessage{
			ReplyCode: r.short("reply code"),
			ReplyText: r.shortStr("reply text"),
			ClassID:   r.short("class id"),
			MethodID:  r.short("method id"),
		}
	})
	registerMethod(uint16(CHANNEL), uint16(CHANNEL_CLOSE_OK), func(*fieldReader) Method { return &ChannelCloseOkMessage{} })
}
