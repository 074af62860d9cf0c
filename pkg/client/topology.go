package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/ottermq/otterclient/internal/core/amqp"
	"github.com/rs/zerolog/log"
)

type DeclarationKind int

const (
	DeclareExchangeKind DeclarationKind = iota
	DeclareQueueKind
	BindQueueKind
	BindExchangeKind
)

func (k DeclarationKind) String() string {
	switch k {
	case DeclareExchangeKind:
		return "exchange"
	case DeclareQueueKind:
		return "queue"
	case BindQueueKind:
		return "queue binding"
	case BindExchangeKind:
		return "exchange binding"
	}
	return fmt.Sprintf("declaration(%d)", int(k))
}

// Declaration is one successful declare or bind, as recorded by Topology.
type Declaration struct {
	Kind DeclarationKind
	// Name is the exchange or queue name, or the binding destination.
	Name string
	// Source is the bound exchange for bindings.
	Source       string
	RoutingKey   string
	ExchangeType string
	Durable      bool
	AutoDelete   bool
	Exclusive    bool
	Internal     bool
	Arguments    Table
	// ServerNamed marks a queue declared with an empty name.
	ServerNamed bool
}

func (d Declaration) key() string {
	return fmt.Sprintf("%d|%s|%s|%s", d.Kind, d.Name, d.Source, d.RoutingKey)
}

// QueueInfo is the broker's answer to a queue declaration.
type QueueInfo struct {
	Name      string
	Messages  uint32
	Consumers uint32
}

// Topology declares exchanges, queues and bindings on a Channel. Identical
// redeclarations succeed; conflicting ones fail with *DeclarationError.
type Topology struct {
	ch *Channel

	mu           sync.Mutex
	declarations []Declaration
	index        map[string]int
}

func NewTopology(ch *Channel) *Topology {
	return &Topology{ch: ch, index: make(map[string]int)}
}

func (t *Topology) Channel() *Channel { return t.ch }

func (t *Topology) DeclareExchange(ctx context.Context, name, kind string, durable, autoDelete, internal bool, args Table) error {
	if !amqp.IsExchangeKind(kind) {
		return &DeclarationError{
			Channel:  t.ch.id,
			Name:     name,
			Code:     uint16(amqp.COMMAND_INVALID),
			Reason:   fmt.Sprintf("unknown exchange type '%s'", kind),
			ClassID:  uint16(amqp.EXCHANGE),
			MethodID: uint16(amqp.EXCHANGE_DECLARE),
		}
	}
	if err := t.validate(name, args, uint16(amqp.EXCHANGE), uint16(amqp.EXCHANGE_DECLARE)); err != nil {
		return err
	}
	_, err := t.ch.call(ctx, request{
		op: "exchange.declare",
		method: &amqp.ExchangeDeclareMessage{
			ExchangeName: name,
			ExchangeType: kind,
			Durable:      durable,
			AutoDelete:   autoDelete,
			Internal:     internal,
			Arguments:    args,
		},
		expect:      []amqp.Method{&amqp.ExchangeDeclareOkMessage{}},
		entity:      name,
		declaration: true,
	})
	if err != nil {
		return err
	}
	t.record(Declaration{Kind: DeclareExchangeKind, Name: name, ExchangeType: kind, Durable: durable, AutoDelete: autoDelete, Internal: internal, Arguments: args})
	log.Debug().Uint16("channel", t.ch.id).Str("exchange", name).Str("type", kind).Msg("Exchange declared")
	return nil
}

// DeclareQueue declares a queue. An empty name asks the broker to generate
// one, which is returned in QueueInfo.
func (t *Topology) DeclareQueue(ctx context.Context, name string, durable, exclusive, autoDelete bool, args Table) (QueueInfo, error) {
	if err := t.validate(name, args, uint16(amqp.QUEUE), uint16(amqp.QUEUE_DECLARE)); err != nil {
		return QueueInfo{}, err
	}
	r, err := t.ch.call(ctx, request{
		op: "queue.declare",
		method: &amqp.QueueDeclareMessage{
			QueueName:  name,
			Durable:    durable,
			Exclusive:  exclusive,
			AutoDelete: autoDelete,
			Arguments:  args,
		},
		expect:      []amqp.Method{&amqp.QueueDeclareOkMessage{}},
		entity:      name,
		declaration: true,
	})
	if err != nil {
		return QueueInfo{}, err
	}
	ok := r.method.(*amqp.QueueDeclareOkMessage)
	info := QueueInfo{Name: ok.QueueName, Messages: ok.MessageCount, Consumers: ok.ConsumerCount}
	t.record(Declaration{Kind: DeclareQueueKind, Name: info.Name, Durable: durable, Exclusive: exclusive, AutoDelete: autoDelete, Arguments: args, ServerNamed: name == ""})
	log.Debug().Uint16("channel", t.ch.id).Str("queue", info.Name).Bool("durable", durable).Msg("Queue declared")
	return info, nil
}

func (t *Topology) BindQueue(ctx context.Context, queue, exchange, routingKey string, args Table) error {
	if err := t.validate(queue, args, uint16(amqp.QUEUE), uint16(amqp.QUEUE_BIND)); err != nil {
		return err
	}
	_, err := t.ch.call(ctx, request{
		op:          "queue.bind",
		method:      &amqp.QueueBindMessage{Queue: queue, Exchange: exchange, RoutingKey: routingKey, Arguments: args},
		expect:      []amqp.Method{&amqp.QueueBindOkMessage{}},
		entity:      queue,
		declaration: true,
	})
	if err != nil {
		return err
	}
	t.record(Declaration{Kind: BindQueueKind, Name: queue, Source: exchange, RoutingKey: routingKey, Arguments: args})
	log.Debug().Uint16("channel", t.ch.id).Str("queue", queue).Str("exchange", exchange).Str("routing_key", routingKey).Msg("Queue bound")
	return nil
}

func (t *Topology) BindExchange(ctx context.Context, destination, source, routingKey string, args Table) error {
	if err := t.validate(destination, args, uint16(amqp.EXCHANGE), uint16(amqp.EXCHANGE_BIND)); err != nil {
		return err
	}
	_, err := t.ch.call(ctx, request{
		op:          "exchange.bind",
		method:      &amqp.ExchangeBindMessage{Destination: destination, Source: source, RoutingKey: routingKey, Arguments: args},
		expect:      []amqp.Method{&amqp.ExchangeBindOkMessage{}},
		entity:      destination,
		declaration: true,
	})
	if err != nil {
		return err
	}
	t.record(Declaration{Kind: BindExchangeKind, Name: destination, Source: source, RoutingKey: routingKey, Arguments: args})
	log.Debug().Uint16("channel", t.ch.id).Str("destination", destination).Str("source", source).Str("routing_key", routingKey).Msg("Exchange bound")
	return nil
}

func (t *Topology) validate(name string, args Table, classID, methodID uint16) error {
	if err := args.Validate(); err != nil {
		return &DeclarationError{
			Channel:  t.ch.id,
			Name:     name,
			Code:     uint16(amqp.SYNTAX_ERROR),
			Reason:   fmt.Sprintf("invalid arguments: %v", err),
			ClassID:  classID,
			MethodID: methodID,
		}
	}
	return nil
}

// record keeps the latest form of each declaration at its first position.
func (t *Topology) record(d Declaration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := d.key()
	if i, ok := t.index[k]; ok {
		t.declarations[i] = d
		return
	}
	t.index[k] = len(t.declarations)
	t.declarations = append(t.declarations, d)
}

// Declarations lists every successful declaration in order, without
// duplicates.
func (t *Topology) Declarations() []Declaration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Declaration, len(t.declarations))
	copy(out, t.declarations)
	return out
}

// Restore replays the recorded declarations on ch, typically a channel of a
// new connection after Redial. Server-named queues are declared afresh and
// bindings referring to them follow the new names. It returns a Topology
// bound to ch holding the replayed declarations.
func (t *Topology) Restore(ctx context.Context, ch *Channel) (*Topology, error) {
	restored := NewTopology(ch)
	renamed := make(map[string]string)
	queueName := func(name string) string {
		if n, ok := renamed[name]; ok {
			return n
		}
		return name
	}

	for _, d := range t.Declarations() {
		var err error
		switch d.Kind {
		case DeclareExchangeKind:
			err = restored.DeclareExchange(ctx, d.Name, d.ExchangeType, d.Durable, d.AutoDelete, d.Internal, d.Arguments)
		case DeclareQueueKind:
			name := d.Name
			if d.ServerNamed {
				name = ""
			}
			var info QueueInfo
			info, err = restored.DeclareQueue(ctx, name, d.Durable, d.Exclusive, d.AutoDelete, d.Arguments)
			if err == nil && d.ServerNamed {
				renamed[d.Name] = info.Name
			}
		case BindQueueKind:
			err = restored.BindQueue(ctx, queueName(d.Name), d.Source, d.RoutingKey, d.Arguments)
		case BindExchangeKind:
			err = restored.BindExchange(ctx, d.Name, d.Source, d.RoutingKey, d.Arguments)
		}
		if err != nil {
			return restored, fmt.Errorf("restore %s %q: %w", d.Kind, d.Name, err)
		}
	}
	return restored, nil
}
