package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerN(tr *ConfirmTracker, n int) []*PublishHandle {
	handles := make([]*PublishHandle, n)
	for i := range handles {
		handles[i] = newPublishHandle(uint64(i+1), time.Second)
		tr.Register(uint64(i+1), handles[i])
	}
	return handles
}

func sequences(handles []*PublishHandle) []uint64 {
	out := make([]uint64, len(handles))
	for i, h := range handles {
		out[i] = h.Sequence()
	}
	return out
}

func TestConfirmTracker_ResolveSingle(t *testing.T) {
	tr := NewConfirmTracker()
	registerN(tr, 3)

	resolved := tr.Resolve(2, false)
	assert.Equal(t, []uint64{2}, sequences(resolved))
	assert.Equal(t, []uint64{1, 3}, tr.Pending())

	assert.Empty(t, tr.Resolve(2, false), "second resolution of the same tag is stale")
}

func TestConfirmTracker_ResolveMultiple(t *testing.T) {
	tr := NewConfirmTracker()
	registerN(tr, 5)
	tr.Resolve(2, false)

	resolved := tr.Resolve(4, true)
	assert.Equal(t, []uint64{1, 3, 4}, sequences(resolved))
	assert.Equal(t, []uint64{5}, tr.Pending())
	assert.Empty(t, tr.Resolve(4, true))
	assert.Equal(t, 1, tr.Len())
}

func TestConfirmTracker_MultipleEqualsIndividual(t *testing.T) {
	batch := NewConfirmTracker()
	registerN(batch, 4)
	single := NewConfirmTracker()
	registerN(single, 4)

	var viaSingle []uint64
	for seq := uint64(1); seq <= 3; seq++ {
		viaSingle = append(viaSingle, sequences(single.Resolve(seq, false))...)
	}
	assert.Equal(t, viaSingle, sequences(batch.Resolve(3, true)))
	assert.Equal(t, single.Pending(), batch.Pending())
}

func TestConfirmTracker_AbandonAll(t *testing.T) {
	tr := NewConfirmTracker()
	registerN(tr, 3)
	tr.Resolve(1, false)

	assert.Equal(t, []uint64{2, 3}, sequences(tr.AbandonAll()))
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Resolve(3, true))
}

func TestPublishHandle_FirstResolutionWins(t *testing.T) {
	h := newPublishHandle(7, time.Second)
	assert.Equal(t, OutcomePending, h.Outcome())

	assert.True(t, h.resolve(OutcomeNacked, nil))
	assert.False(t, h.resolve(OutcomeAcked, nil))
	assert.Equal(t, OutcomeNacked, h.Outcome())
	assert.True(t, closed(h.Done()))

	var rejected *PublishRejectedError
	require.ErrorAs(t, h.Wait(context.Background()), &rejected)
	assert.Equal(t, []uint64{7}, rejected.Sequences)
}

func TestPublishHandle_WaitErrors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		outcome Outcome
		check   func(t *testing.T, err error)
	}{
		{OutcomeAcked, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{OutcomeCommitted, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{OutcomeUnconfirmed, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{OutcomeRolledBack, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRolledBack) }},
		{OutcomeAbandoned, func(t *testing.T, err error) {
			var abandoned *AbandonedError
			require.ErrorAs(t, err, &abandoned)
			assert.ErrorIs(t, err, cause)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			h := newPublishHandle(1, time.Second)
			h.resolve(tt.outcome, cause)
			tt.check(t, h.Wait(context.Background()))
		})
	}
}

func TestPublishHandle_WaitTimesOutWithoutResolving(t *testing.T) {
	h := newPublishHandle(1, 20*time.Millisecond)

	err := h.Wait(context.Background())
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomePending, h.Outcome())

	h.resolve(OutcomeAcked, nil)
	assert.NoError(t, h.Wait(context.Background()))
}
