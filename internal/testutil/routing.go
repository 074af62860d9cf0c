package testutil

import (
	"reflect"
	"strings"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

type binding struct {
	routingKey string
	args       amqp091.Table
	queue      string
	exchange   string // exchange-to-exchange destination
}

type exchange struct {
	name       string
	kind       string
	durable    bool
	autoDelete bool
	internal   bool
	bindings   []binding
}

func newExchange(name, kind string, durable, autoDelete, internal bool) *exchange {
	return &exchange{name: name, kind: kind, durable: durable, autoDelete: autoDelete, internal: internal}
}

type message struct {
	exchange    string
	routingKey  string
	props       amqp.BasicProperties
	body        []byte
	redelivered bool
}

type consumerRef struct {
	channel uint16
	tag     string
	noAck   bool
}

type queue struct {
	name       string
	durable    bool
	exclusive  bool
	autoDelete bool
	messages   []message
	consumers  []consumerRef
	next       int
}

func (e *exchange) bind(b binding) {
	for _, existing := range e.bindings {
		if existing.queue == b.queue && existing.exchange == b.exchange && existing.routingKey == b.routingKey {
			return
		}
	}
	e.bindings = append(e.bindings, b)
}

func (e *exchange) matches(b binding, routingKey string, headers amqp091.Table) bool {
	switch e.kind {
	case amqp.EXCHANGE_FANOUT:
		return true
	case amqp.EXCHANGE_TOPIC:
		return matchTopic(routingKey, b.routingKey)
	case amqp.EXCHANGE_HEADERS:
		return matchHeaders(b.args, headers)
	}
	return b.routingKey == routingKey
}

// route collects the queues reachable from exchange name, following
// exchange-to-exchange bindings once each.
func (b *FakeBroker) route(name, routingKey string, headers amqp091.Table) []*queue {
	seen := make(map[string]bool)
	found := make(map[string]*queue)
	var order []*queue
	var walk func(x string)
	walk = func(x string) {
		if seen[x] {
			return
		}
		seen[x] = true
		if x == "" {
			if q := b.queues[routingKey]; q != nil && found[q.name] == nil {
				found[q.name] = q
				order = append(order, q)
			}
			return
		}
		e := b.exchanges[x]
		if e == nil {
			return
		}
		for _, bd := range e.bindings {
			if !e.matches(bd, routingKey, headers) {
				continue
			}
			if bd.exchange != "" {
				walk(bd.exchange)
				continue
			}
			if q := b.queues[bd.queue]; q != nil && found[q.name] == nil {
				found[q.name] = q
				order = append(order, q)
			}
		}
	}
	walk(name)
	return order
}

// matchTopic implements AMQP topic matching: '*' is one word, '#' zero or
// more.
func matchTopic(routingKey, pattern string) bool {
	return matchWords(strings.Split(routingKey, "."), strings.Split(pattern, "."))
}

func matchWords(key, pattern []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(key[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(key[1:], pattern[1:])
	}
	return len(key) > 0 && key[0] == pattern[0] && matchWords(key[1:], pattern[1:])
}

func matchHeaders(args, headers amqp091.Table) bool {
	matchAny := args["x-match"] == "any"
	matched := 0
	total := 0
	for k, v := range args {
		if strings.HasPrefix(k, "x-") {
			continue
		}
		total++
		if hv, ok := headers[k]; ok && reflect.DeepEqual(hv, v) {
			matched++
		}
	}
	if matchAny {
		return matched > 0
	}
	return matched == total
}
