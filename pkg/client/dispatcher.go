package client

import "sync"

// dispatcher runs a channel's user callbacks on one goroutine in the order
// the receive loop queued them, so a slow handler never stalls frame reading.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	closed   bool
	progress chan struct{}
	finished chan struct{}

	// dispatched counts events that have run; observed is the count last
	// claimed by a waiter.
	dispatched uint64
	observed   uint64
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		progress: make(chan struct{}),
		finished: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// push queues ev. Events pushed after close are dropped.
func (d *dispatcher) push(ev func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
}

// close lets the dispatcher drain what is queued and exit.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
}

// claim reports whether any event has run since the last claim, marking it
// observed. Otherwise it returns a channel closed after the next event runs.
func (d *dispatcher) claim() (<-chan struct{}, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatched > d.observed {
		d.observed = d.dispatched
		return nil, true
	}
	return d.progress, false
}

func (d *dispatcher) run() {
	defer close(d.finished)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		ev()

		d.mu.Lock()
		d.dispatched++
		close(d.progress)
		d.progress = make(chan struct{})
		d.mu.Unlock()
	}
}
