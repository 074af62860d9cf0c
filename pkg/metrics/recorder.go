package metrics

// Confirm outcomes as recorded by RecordConfirm.
const (
	OutcomeAck       = "ack"
	OutcomeNack      = "nack"
	OutcomeAbandoned = "abandoned"
	OutcomeStale     = "stale"
)

// Recorder receives client protocol events. Implementations must be safe for
// concurrent use; every channel's receive loop and its callers report here.
type Recorder interface {
	RecordConnectionOpen()
	RecordConnectionClose()
	RecordChannelOpen(channel uint16)
	RecordChannelClose(channel uint16)

	RecordPublish(exchange string)
	RecordConfirm(outcome string, count int)
	RecordReturn(exchange string, replyCode uint16)

	RecordDelivery(autoAck bool)
	RecordAck(count int)
	RecordNack(count int)
	RecordReject()
	RecordAbandonedDeliveries(count int)

	SetPendingConfirms(channel uint16, depth int)
	SetAwaitingAcks(channel uint16, depth int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordConnectionOpen()          {}
func (NopRecorder) RecordConnectionClose()         {}
func (NopRecorder) RecordChannelOpen(uint16)       {}
func (NopRecorder) RecordChannelClose(uint16)      {}
func (NopRecorder) RecordPublish(string)           {}
func (NopRecorder) RecordConfirm(string, int)      {}
func (NopRecorder) RecordReturn(string, uint16)    {}
func (NopRecorder) RecordDelivery(bool)            {}
func (NopRecorder) RecordAck(int)                  {}
func (NopRecorder) RecordNack(int)                 {}
func (NopRecorder) RecordReject()                  {}
func (NopRecorder) RecordAbandonedDeliveries(int)  {}
func (NopRecorder) SetPendingConfirms(uint16, int) {}
func (NopRecorder) SetAwaitingAcks(uint16, int)    {}
