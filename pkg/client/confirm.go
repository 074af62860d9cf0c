package client

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PublishHandle tracks the outcome of one publish.
type PublishHandle struct {
	seq     uint64
	timeout time.Duration
	done    chan struct{}

	mu      sync.Mutex
	outcome Outcome
	cause   error
}

func newPublishHandle(seq uint64, timeout time.Duration) *PublishHandle {
	return &PublishHandle{seq: seq, timeout: timeout, done: make(chan struct{})}
}

// Sequence is the channel publish sequence number assigned to the publish.
func (h *PublishHandle) Sequence() uint64 { return h.seq }

// Done is closed once the publish is resolved.
func (h *PublishHandle) Done() <-chan struct{} { return h.done }

func (h *PublishHandle) Outcome() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// resolve settles the handle once; later calls report false.
func (h *PublishHandle) resolve(o Outcome, cause error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome != OutcomePending {
		return false
	}
	h.outcome = o
	h.cause = cause
	close(h.done)
	return true
}

// Wait blocks until the publish is resolved. Without a context deadline the
// connection's confirm timeout applies. A timeout leaves the publish pending.
func (h *PublishHandle) Wait(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx, h.timeout)
	defer cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		return &TimeoutError{Op: "wait for confirm", Err: ctx.Err()}
	}
	return h.err()
}

func (h *PublishHandle) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.outcome {
	case OutcomeNacked:
		return &PublishRejectedError{Sequences: []uint64{h.seq}}
	case OutcomeAbandoned:
		return &AbandonedError{Sequences: []uint64{h.seq}, Cause: h.cause}
	case OutcomeRolledBack:
		return ErrRolledBack
	}
	return nil
}

// ConfirmTracker maps outstanding publish sequence numbers to their handles.
// It is not safe for concurrent use; a Channel guards it with its own lock.
type ConfirmTracker struct {
	pending map[uint64]*PublishHandle
	order   []uint64 // ascending
}

func NewConfirmTracker() *ConfirmTracker {
	return &ConfirmTracker{pending: make(map[uint64]*PublishHandle)}
}

// Register adds a pending entry. Sequence numbers must be registered in
// increasing order.
func (t *ConfirmTracker) Register(seq uint64, h *PublishHandle) {
	t.pending[seq] = h
	t.order = append(t.order, seq)
}

// Resolve removes and returns the entries settled by a broker resolution at
// seq. With multiple set that is every pending entry <= seq, lowest first.
// An empty result means the resolution was stale.
func (t *ConfirmTracker) Resolve(seq uint64, multiple bool) []*PublishHandle {
	if !multiple {
		h, ok := t.pending[seq]
		if !ok {
			return nil
		}
		delete(t.pending, seq)
		i := sort.Search(len(t.order), func(i int) bool { return t.order[i] >= seq })
		t.order = append(t.order[:i], t.order[i+1:]...)
		return []*PublishHandle{h}
	}

	n := sort.Search(len(t.order), func(i int) bool { return t.order[i] > seq })
	if n == 0 {
		return nil
	}
	resolved := make([]*PublishHandle, 0, n)
	for _, s := range t.order[:n] {
		resolved = append(resolved, t.pending[s])
		delete(t.pending, s)
	}
	t.order = append(t.order[:0], t.order[n:]...)
	return resolved
}

// AbandonAll empties the tracker and returns every entry still pending.
func (t *ConfirmTracker) AbandonAll() []*PublishHandle {
	out := make([]*PublishHandle, 0, len(t.order))
	for _, s := range t.order {
		out = append(out, t.pending[s])
	}
	t.pending = make(map[uint64]*PublishHandle)
	t.order = nil
	return out
}

// Pending lists outstanding sequence numbers in ascending order.
func (t *ConfirmTracker) Pending() []uint64 {
	out := make([]uint64, len(t.order))
	copy(out, t.order)
	return out
}

func (t *ConfirmTracker) Len() int { return len(t.order) }

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
