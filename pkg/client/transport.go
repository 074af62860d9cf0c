package client

import "context"

// Transport is a negotiated AMQP session. It frames and deframes bytes on the
// wire; the client only exchanges whole frames with it.
//
// Receive blocks until a frame arrives and returns an error once the session
// is gone. Send must be safe to call from multiple goroutines.
type Transport interface {
	// OpenChannel reserves a free channel id.
	OpenChannel() (uint16, error)
	// ReleaseChannel returns an id to the free pool.
	ReleaseChannel(id uint16)
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens a Transport, performing the protocol handshake.
type Dialer func(ctx context.Context) (Transport, error)

// frameMaxer is implemented by transports that know the negotiated frame-max.
type frameMaxer interface {
	FrameMax() uint32
}
