// Package bus implements the in-process message bus that decouples channel
// adapters from the agent runtime.
//
// Each topic fans a published value out to every subscriber. Subscribers own
// a bounded buffer; when any buffer is full the publish is rejected for all
// subscribers so a message is never delivered to only part of the audience.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	// DefaultBufferSize is the per-subscriber buffer capacity.
	DefaultBufferSize = 100
	// DefaultMaxRestarts is how many handler panics are tolerated before the
	// handler is marked dead.
	DefaultMaxRestarts = 3

	// TopicInbound carries messages from channels and producers to agents.
	TopicInbound = "inbound"
	// TopicOutbound carries agent replies to channels.
	TopicOutbound = "outbound"
)

var (
	// ErrBackpressure is returned when a subscriber buffer is full.
	ErrBackpressure = errors.New("bus: subscriber buffer full")
	// ErrClosed is returned when publishing to or subscribing on a closed topic.
	ErrClosed = errors.New("bus: closed")
	// ErrDuplicateSubscriber is returned when a subscriber name is reused.
	ErrDuplicateSubscriber = errors.New("bus: duplicate subscriber")
	// ErrDuplicateTopic is returned when a topic name is registered twice.
	ErrDuplicateTopic = errors.New("bus: duplicate topic")
)

// Options configures a Bus.
type Options struct {
	BufferSize  int
	MaxRestarts int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = DefaultMaxRestarts
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "bus")
	}
	return o
}

// TopicStats is a point-in-time view of one topic.
type TopicStats struct {
	Name        string            `json:"name"`
	Published   uint64            `json:"published"`
	Rejected    uint64            `json:"rejected"`
	Closed      bool              `json:"closed"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

// SubscriberStats is a point-in-time view of one subscriber.
type SubscriberStats struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Restarts int    `json:"restarts"`
	Dead     bool   `json:"dead"`
}

type topic interface {
	name() string
	stats() TopicStats
	close()
}

// Bus is a registry of named topics sharing one configuration.
type Bus struct {
	opts   Options
	mu     sync.Mutex
	topics map[string]topic
	order  []string
	wg     sync.WaitGroup
	closed bool
}

// New creates an empty bus.
func New(opts Options) *Bus {
	return &Bus{
		opts:   opts.withDefaults(),
		topics: make(map[string]topic),
	}
}

// NewTopic registers a typed topic on the bus.
func NewTopic[T any](b *Bus, name string) (*Topic[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.topics[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTopic, name)
	}
	t := &Topic[T]{
		topicName: name,
		bus:       b,
		subs:      make(map[string]*Subscription[T]),
	}
	b.topics[name] = t
	b.order = append(b.order, name)
	return t, nil
}

// Stats reports per-topic counters in registration order.
func (b *Bus) Stats() []TopicStats {
	b.mu.Lock()
	topics := make([]topic, 0, len(b.order))
	for _, name := range b.order {
		topics = append(topics, b.topics[name])
	}
	b.mu.Unlock()

	out := make([]TopicStats, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.stats())
	}
	return out
}

// Close closes every topic and waits for running handlers to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.close()
	}
	b.wg.Wait()
}

// MessageBus is the bus with the two topics the runtime uses.
type MessageBus struct {
	*Bus
	Inbound  *Topic[*models.InboundMessage]
	Outbound *Topic[*models.OutboundMessage]
}

// NewMessageBus creates a bus with the inbound and outbound topics registered.
func NewMessageBus(opts Options) *MessageBus {
	b := New(opts)
	// Registration on a fresh bus cannot collide.
	inbound, _ := NewTopic[*models.InboundMessage](b, TopicInbound)
	outbound, _ := NewTopic[*models.OutboundMessage](b, TopicOutbound)
	return &MessageBus{Bus: b, Inbound: inbound, Outbound: outbound}
}

func sortedSubscriberStats(stats []SubscriberStats) []SubscriberStats {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
