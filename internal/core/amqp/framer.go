package amqp

import (
	"io"
)

// Framer builds, parses and moves frames. Connections hold one so tests can
// substitute a recording implementation.
type Framer interface {
	ReadFrame(r io.Reader) ([]byte, error)
	SendFrame(w io.Writer, frame []byte) error
	ParseFrame(frame []byte) (any, error)
	CreateMethodFrame(channel uint16, m Method) []byte
	CreateContentFrames(channel uint16, m Method, msg Message, frameMax uint32) ([][]byte, error)
	CreateHeartbeatFrame() []byte
}

type DefaultFramer struct{}

func (d *DefaultFramer) ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrame(r)
}

func (d *DefaultFramer) SendFrame(w io.Writer, frame []byte) error {
	return WriteFrame(w, frame)
}

func (d *DefaultFramer) ParseFrame(frame []byte) (any, error) {
	return ParseFrame(frame)
}

func (d *DefaultFramer) CreateMethodFrame(channel uint16, m Method) []byte {
	return CreateMethodFrame(channel, m)
}

func (d *DefaultFramer) CreateContentFrames(channel uint16, m Method, msg Message, frameMax uint32) ([][]byte, error) {
	return CreateContentFrames(channel, m, msg, frameMax)
}

func (d *DefaultFramer) CreateHeartbeatFrame() []byte {
	return CreateHeartbeatFrame()
}
