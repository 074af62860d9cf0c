package metrics

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "otterclient"

type Config struct {
	Enabled         bool
	WindowSize      time.Duration
	MaxSamples      int
	SamplesInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		WindowSize:      time.Minute,
		MaxSamples:      60,
		SamplesInterval: 5 * time.Second,
	}
}

// Collector is a Recorder backed by Prometheus metrics. It also samples the
// publish, delivery and ack totals into RateTrackers for Snapshot.
type Collector struct {
	config *Config

	connections     prometheus.Gauge
	channels        prometheus.Gauge
	publishes       *prometheus.CounterVec
	confirms        *prometheus.CounterVec
	returns         *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	acks            prometheus.Counter
	nacks           prometheus.Counter
	rejects         prometheus.Counter
	abandoned       prometheus.Counter
	pendingConfirms *prometheus.GaugeVec
	awaitingAcks    *prometheus.GaugeVec

	publishTotal  atomic.Int64
	deliveryTotal atomic.Int64
	ackTotal      atomic.Int64

	publishRate  *RateTracker
	deliveryRate *RateTracker
	ackRate      *RateTracker
}

// NewCollector builds a Collector and registers its metrics with reg. A nil
// config means DefaultConfig.
func NewCollector(config *Config, reg prometheus.Registerer) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Collector{
		config: config,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_open",
			Help: "Connections currently open.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channels_open",
			Help: "Channels currently open.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publishes_total",
			Help: "Messages published, by exchange.",
		}, []string{"exchange"}),
		confirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "confirms_total",
			Help: "Publisher confirm resolutions, by outcome.",
		}, []string{"outcome"}),
		returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "returns_total",
			Help: "Messages returned by the broker, by exchange and reply code.",
		}, []string{"exchange", "reply_code"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Messages received, by acknowledgement mode.",
		}, []string{"ack_mode"}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "acks_total",
			Help: "Delivery tags acknowledged.",
		}),
		nacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "nacks_total",
			Help: "Delivery tags negatively acknowledged.",
		}),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejects_total",
			Help: "Delivery tags rejected.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "abandoned_deliveries_total",
			Help: "Unacknowledged deliveries abandoned by channel close.",
		}),
		pendingConfirms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_confirms",
			Help: "Publishes awaiting a broker confirm, by channel.",
		}, []string{"channel"}),
		awaitingAcks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "awaiting_acks",
			Help: "Deliveries awaiting local acknowledgement, by channel.",
		}, []string{"channel"}),
		publishRate:  NewRateTracker(config.WindowSize, config.MaxSamples),
		deliveryRate: NewRateTracker(config.WindowSize, config.MaxSamples),
		ackRate:      NewRateTracker(config.WindowSize, config.MaxSamples),
	}

	if reg != nil {
		for _, m := range []prometheus.Collector{
			c.connections, c.channels, c.publishes, c.confirms, c.returns, c.deliveries,
			c.acks, c.nacks, c.rejects, c.abandoned, c.pendingConfirms, c.awaitingAcks,
		} {
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func channelLabel(channel uint16) string {
	return strconv.FormatUint(uint64(channel), 10)
}

func (c *Collector) RecordConnectionOpen()  { c.connections.Inc() }
func (c *Collector) RecordConnectionClose() { c.connections.Dec() }

func (c *Collector) RecordChannelOpen(uint16) { c.channels.Inc() }

func (c *Collector) RecordChannelClose(channel uint16) {
	c.channels.Dec()
	c.pendingConfirms.DeleteLabelValues(channelLabel(channel))
	c.awaitingAcks.DeleteLabelValues(channelLabel(channel))
}

func (c *Collector) RecordPublish(exchange string) {
	c.publishes.WithLabelValues(exchange).Inc()
	c.publishTotal.Add(1)
}

func (c *Collector) RecordConfirm(outcome string, count int) {
	c.confirms.WithLabelValues(outcome).Add(float64(count))
}

func (c *Collector) RecordReturn(exchange string, replyCode uint16) {
	c.returns.WithLabelValues(exchange, strconv.FormatUint(uint64(replyCode), 10)).Inc()
}

func (c *Collector) RecordDelivery(autoAck bool) {
	mode := "manual"
	if autoAck {
		mode = "auto"
	}
	c.deliveries.WithLabelValues(mode).Inc()
	c.deliveryTotal.Add(1)
}

func (c *Collector) RecordAck(count int) {
	c.acks.Add(float64(count))
	c.ackTotal.Add(int64(count))
}

func (c *Collector) RecordNack(count int) { c.nacks.Add(float64(count)) }
func (c *Collector) RecordReject()        { c.rejects.Inc() }

func (c *Collector) RecordAbandonedDeliveries(count int) { c.abandoned.Add(float64(count)) }

func (c *Collector) SetPendingConfirms(channel uint16, depth int) {
	c.pendingConfirms.WithLabelValues(channelLabel(channel)).Set(float64(depth))
}

func (c *Collector) SetAwaitingAcks(channel uint16, depth int) {
	c.awaitingAcks.WithLabelValues(channelLabel(channel)).Set(float64(depth))
}

// StartPeriodicSampling feeds the rate trackers every SamplesInterval until
// ctx is done. It returns immediately when sampling is disabled.
func (c *Collector) StartPeriodicSampling(ctx context.Context) {
	if !c.config.Enabled || c.config.SamplesInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.SamplesInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sample()
			}
		}
	}()
}

func (c *Collector) sample() {
	c.publishRate.Record(c.publishTotal.Load())
	c.deliveryRate.Record(c.deliveryTotal.Load())
	c.ackRate.Record(c.ackTotal.Load())
}

type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Publishes    int64     `json:"publishes"`
	Deliveries   int64     `json:"deliveries"`
	Acks         int64     `json:"acks"`
	PublishRate  float64   `json:"publish_rate"`
	DeliveryRate float64   `json:"delivery_rate"`
	AckRate      float64   `json:"ack_rate"`
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:    time.Now(),
		Publishes:    c.publishTotal.Load(),
		Deliveries:   c.deliveryTotal.Load(),
		Acks:         c.ackTotal.Load(),
		PublishRate:  c.publishRate.Rate(),
		DeliveryRate: c.deliveryRate.Rate(),
		AckRate:      c.ackRate.Rate(),
	}
}
