package errors

// ChannelError is a channel-scoped failure; other channels keep working.
type ChannelError struct {
	reply
}

func (e *ChannelError) Error() string {
	return e.format("Channel")
}

func NewChannelError(text string, code, classID, methodID uint16) AMQPError {
	return &ChannelError{reply{code: code, text: text, classID: classID, methodID: methodID}}
}
