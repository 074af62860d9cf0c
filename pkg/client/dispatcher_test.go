package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_RunsInOrder(t *testing.T) {
	d := newDispatcher()
	go d.run()

	var got []int
	for i := 0; i < 5; i++ {
		d.push(func() { got = append(got, i) })
	}
	d.close()
	<-d.finished

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestDispatcher_DropsEventsAfterClose(t *testing.T) {
	d := newDispatcher()
	ran := false
	d.close()
	d.push(func() { ran = true })
	go d.run()
	<-d.finished

	assert.False(t, ran)
}

func TestDispatcher_ClaimSeesEventsThatAlreadyRan(t *testing.T) {
	d := newDispatcher()
	next, ok := d.claim()
	assert.False(t, ok)
	assert.False(t, closed(next))

	go d.run()
	d.push(func() {})
	d.push(func() {})
	<-next
	d.close()
	<-d.finished

	_, ok = d.claim()
	assert.True(t, ok, "events that ran before the claim count")
	next, ok = d.claim()
	assert.False(t, ok, "each event is claimed once")
	assert.False(t, closed(next))
}
