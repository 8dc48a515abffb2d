package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/clawcore/internal/bus"
	"github.com/haasonsaas/clawcore/internal/observability"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	outboundSubscriber = "channels"
	defaultStopTimeout = 10 * time.Second
	busyReplyTimeout   = 5 * time.Second
)

// BusyReply is sent to a chat whose message the inbound topic rejected.
const BusyReply = "I'm handling too many messages right now; please retry in a moment."

// InboundPublisher accepts messages received from adapters.
type InboundPublisher interface {
	Publish(msg *models.InboundMessage) error
}

// OutboundSource is the topic replies are read from.
type OutboundSource interface {
	Handle(ctx context.Context, name string, fn func(context.Context, *models.OutboundMessage) error) (*bus.Subscription[*models.OutboundMessage], error)
}

type registration struct {
	adapter Adapter
	allow   *AllowList
}

// Manager runs the adapters, forwards what they receive to the inbound
// topic, and delivers outbound replies to the right adapter.
type Manager struct {
	inbound  InboundPublisher
	outbound OutboundSource
	logger   *slog.Logger
	metrics  *observability.Metrics
	observe  func(*models.InboundMessage)

	mu       sync.RWMutex
	adapters map[models.ChannelType]*registration
	failed   map[models.ChannelType]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics records message counts.
func WithManagerMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithObserver registers fn to see every admitted inbound message before it
// is published.
func WithObserver(fn func(*models.InboundMessage)) ManagerOption {
	return func(m *Manager) { m.observe = fn }
}

// NewManager creates a manager bridging adapters and the bus.
func NewManager(inbound InboundPublisher, outbound OutboundSource, opts ...ManagerOption) *Manager {
	m := &Manager{
		inbound:  inbound,
		outbound: outbound,
		logger:   slog.Default().With("component", "channels"),
		adapters: make(map[models.ChannelType]*registration),
		failed:   make(map[models.ChannelType]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds an adapter with its allow list.
func (m *Manager) Register(adapter Adapter, allowFrom []string) error {
	if adapter == nil {
		return ErrConfig("adapter is nil", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[adapter.Type()]; exists {
		return ErrConfig(fmt.Sprintf("channel %s registered twice", adapter.Type()), nil)
	}
	m.adapters[adapter.Type()] = &registration{adapter: adapter, allow: NewAllowList(allowFrom)}
	return nil
}

// Get returns the adapter for a channel.
func (m *Manager) Get(channel models.ChannelType) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.adapters[channel]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}

// Channels lists registered channel types in name order.
func (m *Manager) Channels() []models.ChannelType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ChannelType, 0, len(m.adapters))
	for ch := range m.adapters {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Status reports each adapter's connection state.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.adapters))
	for ch, reg := range m.adapters {
		status := reg.adapter.Status()
		if msg, ok := m.failed[ch]; ok && status.Error == "" {
			status.Error = msg
		}
		out[string(ch)] = status
	}
	return out
}

// Run starts every adapter, pumps traffic until ctx is cancelled, then
// stops the adapters. An adapter that fails to start is logged and left
// out; the others keep running.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.outbound.Handle(ctx, outboundSubscriber, m.Deliver); err != nil {
		return fmt.Errorf("subscribe outbound: %w", err)
	}

	var wg sync.WaitGroup
	var running []Adapter
	for _, ch := range m.Channels() {
		reg := m.registration(ch)
		if err := reg.adapter.Start(ctx); err != nil {
			m.logger.Error("channel failed to start", "channel", ch, "error", err)
			m.mu.Lock()
			m.failed[ch] = err.Error()
			m.mu.Unlock()
			continue
		}
		m.logger.Info("channel started", "channel", ch)
		running = append(running, reg.adapter)
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			m.pump(ctx, reg)
		}(reg)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()
	for _, adapter := range running {
		if err := adapter.Stop(stopCtx); err != nil {
			m.logger.Warn("channel stop failed", "channel", adapter.Type(), "error", err)
		}
	}
	wg.Wait()
	return nil
}

func (m *Manager) registration(ch models.ChannelType) *registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapters[ch]
}

func (m *Manager) pump(ctx context.Context, reg *registration) {
	messages := reg.adapter.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			m.admit(ctx, reg, msg)
		}
	}
}

func (m *Manager) admit(ctx context.Context, reg *registration, msg *models.InboundMessage) {
	if msg == nil {
		return
	}
	channel := reg.adapter.Type()
	if !reg.allow.Allows(msg.SenderID, msg.SenderName) {
		m.logger.Debug("message rejected by allow list", "channel", channel, "sender_id", msg.SenderID)
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Channel = channel
	if msg.Origin == "" {
		msg.Origin = models.OriginChannel
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	m.metrics.MessageReceived(string(channel))
	if m.observe != nil {
		m.observe(msg)
	}
	err := m.inbound.Publish(msg)
	if err == nil {
		return
	}
	m.logger.Warn("inbound message dropped", "channel", channel, "chat_id", msg.ChatID, "error", err)
	if !errors.Is(err, bus.ErrBackpressure) {
		return
	}
	m.metrics.RecordBusRejection(bus.TopicInbound)

	// Reply straight through the adapter; the outbound topic may be just as
	// full.
	sendCtx, cancel := context.WithTimeout(ctx, busyReplyTimeout)
	defer cancel()
	busy := &models.OutboundMessage{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    msg.ChatID,
		Text:      BusyReply,
		ReplyTo:   msg.ID,
		IsError:   true,
		CreatedAt: time.Now(),
	}
	if err := reg.adapter.Send(sendCtx, busy); err != nil {
		m.logger.Warn("busy reply failed", "channel", channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	m.metrics.MessageSent(string(channel))
}

// Deliver sends an outbound message through its channel's adapter, split
// to the platform limit. Messages for channels without an adapter (such as
// system) are dropped with a debug log.
func (m *Manager) Deliver(ctx context.Context, msg *models.OutboundMessage) error {
	if msg == nil {
		return nil
	}
	adapter, ok := m.Get(msg.Channel)
	if !ok {
		if msg.Channel == models.ChannelSystem || msg.Channel == "" {
			m.logger.Debug("dropping outbound message without a channel", "chat_id", msg.ChatID)
			return nil
		}
		return ErrNotFound(fmt.Sprintf("no adapter for channel %q", msg.Channel), nil)
	}
	parts := Split(msg.Text, MessageLimit(msg.Channel))
	for i, part := range parts {
		piece := *msg
		piece.Text = part
		if i > 0 {
			piece.ReplyTo = ""
		}
		if err := adapter.Send(ctx, &piece); err != nil {
			return fmt.Errorf("send part %d/%d to %s: %w", i+1, len(parts), msg.Channel, err)
		}
		m.metrics.MessageSent(string(msg.Channel))
	}
	return nil
}
