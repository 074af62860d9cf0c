package client

import (
	"time"

	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/ottermq/otterclient/pkg/metrics"
)

const (
	DefaultRPCTimeout     = 30 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
	DefaultConfirmTimeout = 5 * time.Second
	DefaultFrameMax       = 131072
)

// Options tune a Connection and every Channel it opens.
type Options struct {
	// RPCTimeout bounds synchronous requests whose context has no deadline.
	RPCTimeout time.Duration
	// CloseTimeout bounds the close handshakes.
	CloseTimeout time.Duration
	// ConfirmTimeout bounds PublishHandle.Wait when the context has no deadline.
	ConfirmTimeout time.Duration
	// FrameMax splits content bodies. A transport reporting FrameMax wins.
	FrameMax uint32
	Metrics  metrics.Recorder
	Framer   amqp.Framer
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		RPCTimeout:     DefaultRPCTimeout,
		CloseTimeout:   DefaultCloseTimeout,
		ConfirmTimeout: DefaultConfirmTimeout,
		FrameMax:       DefaultFrameMax,
		Metrics:        metrics.NopRecorder{},
		Framer:         &amqp.DefaultFramer{},
	}
}

func WithRPCTimeout(d time.Duration) Option {
	return func(o *Options) { o.RPCTimeout = d }
}

func WithCloseTimeout(d time.Duration) Option {
	return func(o *Options) { o.CloseTimeout = d }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConfirmTimeout = d }
}

func WithFrameMax(n uint32) Option {
	return func(o *Options) { o.FrameMax = n }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Options) {
		if r != nil {
			o.Metrics = r
		}
	}
}

func WithFramer(f amqp.Framer) Option {
	return func(o *Options) {
		if f != nil {
			o.Framer = f
		}
	}
}
