package errors

// ConnectionError is a connection-scoped failure; the whole connection closes.
type ConnectionError struct {
	reply
}

func (e *ConnectionError) Error() string {
	return e.format("Connection")
}

func NewConnectionError(text string, code, classID, methodID uint16) AMQPError {
	return &ConnectionError{reply{code: code, text: text, classID: classID, methodID: methodID}}
}
