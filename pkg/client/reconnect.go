package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/rs/zerolog/log"
)

// ReconnectPolicy bounds Redial's exponential backoff. The core never
// reconnects on its own; callers watch Connection.Done and decide.
type ReconnectPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration // zero retries until ctx is done
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		MaxElapsed: 5 * time.Minute,
	}
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Redial opens a new Connection, retrying failed dials under policy. Broker
// refusals that a retry cannot fix (access refused, invalid vhost) stop the
// loop immediately.
func Redial(ctx context.Context, dial Dialer, policy ReconnectPolicy, opts ...Option) (*Connection, error) {
	var conn *Connection
	attempt := 0
	op := func() error {
		attempt++
		c, err := Open(ctx, dial, opts...)
		if err != nil {
			if ce, ok := err.(*ConnectionError); ok && permanent(ce) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("Reconnect failed")
	}
	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, err
	}
	log.Info().Int("attempts", attempt).Msg("Reconnected")
	return conn, nil
}

func permanent(e *ConnectionError) bool {
	switch amqp.ReplyCode(e.Code) {
	case amqp.ACCESS_REFUSED, amqp.INVALID_PATH, amqp.NOT_ALLOWED:
		return true
	}
	return false
}
