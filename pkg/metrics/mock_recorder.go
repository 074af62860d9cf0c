package metrics

import "sync"

// MockRecorder counts calls for test assertions.
type MockRecorder struct {
	mu       sync.Mutex
	counts   map[string]int
	confirms map[string]int
	pending  map[uint16]int
	awaiting map[uint16]int
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		counts:   make(map[string]int),
		confirms: make(map[string]int),
		pending:  make(map[uint16]int),
		awaiting: make(map[uint16]int),
	}
}

func (m *MockRecorder) add(name string, n int) {
	m.mu.Lock()
	m.counts[name] += n
	m.mu.Unlock()
}

// Count returns how often the event named by its method suffix was recorded,
// e.g. "Publish" or "ChannelOpen". Counted events add their count.
func (m *MockRecorder) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *MockRecorder) Confirms(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirms[outcome]
}

func (m *MockRecorder) PendingConfirms(channel uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[channel]
}

func (m *MockRecorder) AwaitingAcks(channel uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaiting[channel]
}

func (m *MockRecorder) RecordConnectionOpen()     { m.add("ConnectionOpen", 1) }
func (m *MockRecorder) RecordConnectionClose()    { m.add("ConnectionClose", 1) }
func (m *MockRecorder) RecordChannelOpen(uint16)  { m.add("ChannelOpen", 1) }
func (m *MockRecorder) RecordChannelClose(uint16) { m.add("ChannelClose", 1) }
func (m *MockRecorder) RecordPublish(string)      { m.add("Publish", 1) }

func (m *MockRecorder) RecordConfirm(outcome string, count int) {
	m.mu.Lock()
	m.confirms[outcome] += count
	m.mu.Unlock()
}

func (m *MockRecorder) RecordReturn(string, uint16)         { m.add("Return", 1) }
func (m *MockRecorder) RecordDelivery(bool)                 { m.add("Delivery", 1) }
func (m *MockRecorder) RecordAck(count int)                 { m.add("Ack", count) }
func (m *MockRecorder) RecordNack(count int)                { m.add("Nack", count) }
func (m *MockRecorder) RecordReject()                       { m.add("Reject", 1) }
func (m *MockRecorder) RecordAbandonedDeliveries(count int) { m.add("AbandonedDeliveries", count) }

func (m *MockRecorder) SetPendingConfirms(channel uint16, depth int) {
	m.mu.Lock()
	m.pending[channel] = depth
	m.mu.Unlock()
}

func (m *MockRecorder) SetAwaitingAcks(channel uint16, depth int) {
	m.mu.Lock()
	m.awaiting[channel] = depth
	m.mu.Unlock()
}
