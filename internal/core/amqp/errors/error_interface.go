package errors

import "fmt"

// AMQPError is a reply carried by a connection.close or channel.close method.
type AMQPError interface {
	error
	ReplyText() string
	ReplyCode() uint16
	ClassID() uint16
	MethodID() uint16
}

type reply struct {
	code     uint16
	text     string
	classID  uint16
	methodID uint16
}

func (r reply) ReplyText() string { return r.text }
func (r reply) ReplyCode() uint16 { return r.code }
func (r reply) ClassID() uint16   { return r.classID }
func (r reply) MethodID() uint16  { return r.methodID }

func (r reply) format(scope string) string {
	if r.classID == 0 && r.methodID == 0 {
		return fmt.Sprintf("AMQP %s Error %d: %s", scope, r.code, r.text)
	}
	return fmt.Sprintf("AMQP %s Error %d: %s (class %d, method %d)", scope, r.code, r.text, r.classID, r.methodID)
}
