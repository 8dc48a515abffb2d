// Package heartbeat periodically turns the tasks in an agent's HEARTBEAT.md
// into agent turns.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	// DefaultInterval is used when no interval is configured.
	DefaultInterval = 30 * time.Minute
	// MinInterval is the shortest interval accepted.
	MinInterval = 5 * time.Minute
	// Prompt prefixes the task list in the synthetic message.
	Prompt = "Execute these heartbeat tasks:\n"
	// FallbackChatID receives heartbeats before any chat has been active.
	FallbackChatID = "heartbeat"
)

// InboundPublisher accepts synthetic inbound messages.
type InboundPublisher interface {
	Publish(msg *models.InboundMessage) error
}

// Config configures the service.
type Config struct {
	Workspace   string
	Interval    time.Duration
	ActiveHours *ActiveHours
}

// Service publishes heartbeat turns to the most recently active chat.
type Service struct {
	workspace string
	interval  time.Duration
	active    *ActiveHours
	inbound   InboundPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	channel  models.ChannelType
	chatID   string
	lastTick time.Time
	lastSent time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a heartbeat service. Intervals below MinInterval are
// raised to it.
func NewService(cfg Config, inbound InboundPublisher, opts ...Option) (*Service, error) {
	if cfg.Workspace == "" {
		return nil, errors.New("heartbeat workspace required")
	}
	if inbound == nil {
		return nil, errors.New("heartbeat publisher required")
	}
	if err := cfg.ActiveHours.Validate(); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	s := &Service{
		workspace: cfg.Workspace,
		interval:  interval,
		active:    cfg.ActiveHours,
		inbound:   inbound,
		logger:    slog.Default().With("component", "heartbeat"),
		now:       time.Now,
		channel:   models.ChannelSystem,
		chatID:    FallbackChatID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Interval returns the effective tick interval.
func (s *Service) Interval() time.Duration { return s.interval }

// Path returns the HEARTBEAT.md location.
func (s *Service) Path() string { return filepath.Join(s.workspace, FileName) }

// Observe records msg's chat as the heartbeat target. Messages produced by
// cron, heartbeat, or the system itself are ignored.
func (s *Service) Observe(msg *models.InboundMessage) {
	if msg == nil || msg.ChatID == "" {
		return
	}
	if msg.Origin != "" && msg.Origin != models.OriginChannel {
		return
	}
	if msg.Channel == models.ChannelSystem {
		return
	}
	s.mu.Lock()
	s.channel = msg.Channel
	s.chatID = msg.ChatID
	s.mu.Unlock()
}

// Target returns the chat heartbeats are currently sent to.
func (s *Service) Target() (models.ChannelType, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, s.chatID
}

// EnsureFile writes the template if HEARTBEAT.md does not exist.
func (s *Service) EnsureFile() error {
	path := s.Path()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(s.workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return os.WriteFile(path, []byte(Template), 0o644)
}

// Run ticks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.EnsureFile(); err != nil {
		s.logger.Warn("could not create heartbeat file", "path", s.Path(), "error", err)
	}
	s.logger.Info("heartbeat service started", "interval", s.interval.String(), "file", s.Path())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// Tick reads HEARTBEAT.md and publishes it when it holds tasks. It reports
// whether a message was published.
func (s *Service) Tick(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	if !s.active.Contains(now) {
		s.logger.Debug("heartbeat skipped outside active hours")
		return false, nil
	}
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", FileName, err)
	}
	content := string(data)
	if !HasTasks(content) {
		s.logger.Debug("heartbeat skipped, no active tasks")
		return false, nil
	}

	channel, chatID := s.Target()
	msg := &models.InboundMessage{
		ID:         uuid.NewString(),
		Channel:    channel,
		ChatID:     chatID,
		SenderID:   "heartbeat",
		Text:       Prompt + content,
		Origin:     models.OriginHeartbeat,
		ReceivedAt: now,
	}
	if err := s.inbound.Publish(msg); err != nil {
		return false, fmt.Errorf("publish heartbeat: %w", err)
	}
	s.mu.Lock()
	s.lastSent = now
	s.mu.Unlock()
	s.logger.Info("heartbeat published", "channel", channel, "chat_id", chatID)
	return true, nil
}

// Snapshot is the service state reported by the admin status.
type Snapshot struct {
	Interval time.Duration      `json:"interval"`
	Channel  models.ChannelType `json:"channel"`
	ChatID   string             `json:"chat_id"`
	LastTick time.Time          `json:"last_tick,omitempty"`
	LastSent time.Time          `json:"last_sent,omitempty"`
}

// Snapshot returns the current state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Interval: s.interval,
		Channel:  s.channel,
		ChatID:   s.chatID,
		LastTick: s.lastTick,
		LastSent: s.lastSent,
	}
}
