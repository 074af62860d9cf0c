package client

import (
	"context"
)

// Producer publishes on one Channel. The confirm modes share the channel's
// ConfirmTracker and differ only in how the caller observes resolutions:
//
//   - PublishAndConfirm blocks for one publish.
//   - PublishBatch with WaitBatch blocks for a batch.
//   - SetConfirmHandler is called per resolved publish.
//   - SetBatchConfirmHandler is called per broker resolution frame.
type Producer struct {
	ch *Channel
}

func NewProducer(ch *Channel) *Producer {
	return &Producer{ch: ch}
}

func (p *Producer) Channel() *Channel { return p.ch }

// Outbound is one message of a batch.
type Outbound struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
	Publishing Publishing
}

// Publish sends a message. The channel's sequence number advances for every
// publish that reaches the transport, in any mode. In confirm mode the
// handle resolves when the broker confirms; in transactional mode on commit
// or rollback; otherwise it is resolved immediately as unconfirmed.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing) (*PublishHandle, error) {
	return p.ch.publish(ctx, exchange, routingKey, mandatory, immediate, msg)
}

// PublishAndConfirm publishes and waits for the broker's confirm. It fails
// with *PublishRejectedError on a nack and *TimeoutError when no confirm
// arrives in time.
func (p *Producer) PublishAndConfirm(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing) error {
	if err := p.requireConfirms("wait for confirm"); err != nil {
		return err
	}
	h, err := p.Publish(ctx, exchange, routingKey, mandatory, immediate, msg)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// PublishBatch publishes every message in order and returns their handles.
// It stops at the first failure, returning the handles published so far.
func (p *Producer) PublishBatch(ctx context.Context, batch []Outbound) ([]*PublishHandle, error) {
	handles := make([]*PublishHandle, 0, len(batch))
	for _, o := range batch {
		h, err := p.Publish(ctx, o.Exchange, o.RoutingKey, o.Mandatory, o.Immediate, o.Publishing)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// PublishBatchAndConfirm publishes a batch and waits for all of it.
func (p *Producer) PublishBatchAndConfirm(ctx context.Context, batch []Outbound) error {
	if err := p.requireConfirms("wait for confirms"); err != nil {
		return err
	}
	handles, err := p.PublishBatch(ctx, batch)
	if err != nil {
		return err
	}
	return p.WaitBatch(ctx, handles)
}

// WaitBatch waits until every handle resolves. Any nack fails the batch with
// a *PublishRejectedError listing every rejected sequence. Abandoned publishes
// yield *AbandonedError. Without a context deadline the confirm timeout
// applies.
func (p *Producer) WaitBatch(ctx context.Context, handles []*PublishHandle) error {
	ctx, cancel := withDefaultTimeout(ctx, p.ch.opts.ConfirmTimeout)
	defer cancel()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return &TimeoutError{Op: "wait for confirms", Err: ctx.Err()}
		}
	}

	var rejected, abandoned []uint64
	var cause error
	for _, h := range handles {
		switch h.Outcome() {
		case OutcomeNacked:
			rejected = append(rejected, h.Sequence())
		case OutcomeAbandoned:
			abandoned = append(abandoned, h.Sequence())
			if cause == nil {
				cause = h.err()
			}
		}
	}
	if len(rejected) > 0 {
		return &PublishRejectedError{Sequences: rejected}
	}
	if len(abandoned) > 0 {
		if ae, ok := cause.(*AbandonedError); ok {
			cause = ae.Cause
		}
		return &AbandonedError{Sequences: abandoned, Cause: cause}
	}
	return nil
}

func (p *Producer) requireConfirms(op string) error {
	if mode := p.ch.Mode(); mode != ModeConfirm {
		return &ModeConflictError{Channel: p.ch.id, Current: mode, Requested: op}
	}
	return nil
}

// SetReturnListener registers the handler for messages the broker returns.
// Returns are never reported as nacks.
func (p *Producer) SetReturnListener(h ReturnHandler) {
	p.ch.mu.Lock()
	p.ch.returnHandler = h
	p.ch.mu.Unlock()
}

func (p *Producer) SetConfirmHandler(h ConfirmHandler) {
	p.ch.mu.Lock()
	p.ch.confirmHandler = h
	p.ch.mu.Unlock()
}

func (p *Producer) SetBatchConfirmHandler(h BatchConfirmHandler) {
	p.ch.mu.Lock()
	p.ch.batchConfirmHandler = h
	p.ch.mu.Unlock()
}

func (p *Producer) SelectConfirms(ctx context.Context) error { return p.ch.SelectConfirms(ctx) }
func (p *Producer) TxSelect(ctx context.Context) error       { return p.ch.SelectTransactions(ctx) }
func (p *Producer) TxCommit(ctx context.Context) error       { return p.ch.Commit(ctx) }
func (p *Producer) TxRollback(ctx context.Context) error     { return p.ch.Rollback(ctx) }

// Outstanding lists sequence numbers still awaiting a confirm.
func (p *Producer) Outstanding() []uint64 {
	p.ch.mu.Lock()
	defer p.ch.mu.Unlock()
	return p.ch.tracker.Pending()
}
