package transport

import (
	"errors"
	"sync"
)

// ErrNoFreeChannel is returned when every channel id up to channel-max is in use.
var ErrNoFreeChannel = errors.New("no free channel id")

// Allocator hands out channel ids in 1..max. Ids are handed out round robin
// so a just-released id is not reused while late frames for it may still
// arrive.
type Allocator struct {
	mu   sync.Mutex
	max  uint16
	last uint16
	used map[uint16]struct{}
}

func NewAllocator(max uint16) *Allocator {
	if max == 0 {
		max = 65535
	}
	return &Allocator{max: max, used: make(map[uint16]struct{})}
}

func (a *Allocator) Next() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.used) >= int(a.max) {
		return 0, ErrNoFreeChannel
	}
	id := a.last
	for {
		if id == a.max {
			id = 1
		} else {
			id++
		}
		if _, taken := a.used[id]; !taken {
			break
		}
	}
	a.used[id] = struct{}{}
	a.last = id
	return id, nil
}

func (a *Allocator) Release(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, id)
}

func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
