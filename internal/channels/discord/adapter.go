// Package discord implements the Discord channel over the gateway websocket.
package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// session is the part of *discordgo.Session the adapter uses.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from the Discord developer portal.
	Token string

	// RateLimit is the send rate in messages per second (default 5).
	RateLimit float64

	// RateBurst is the burst size for sends (default 10).
	RateBurst int

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return channels.ErrConfig("discord token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	channels.StatusTracker

	config     Config
	newSession func(token string) (session, error)
	session    session
	messages   chan *models.InboundMessage
	limiter    *channels.RateLimiter
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	removers []func()
}

// NewAdapter creates a Discord adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:     config,
		newSession: newSession,
		messages:   make(chan *models.InboundMessage, 100),
		limiter:    channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:     config.Logger.With("adapter", "discord"),
	}, nil
}

func newSession(token string) (session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return dg, nil
}

// Start opens the gateway connection. discordgo reconnects on its own
// after transient failures.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return channels.ErrInternal("discord adapter already started", nil)
	}

	s, err := a.newSession(a.config.Token)
	if err != nil {
		return channels.ErrAuthentication("failed to create discord session", err)
	}
	a.removers = append(a.removers,
		s.AddHandler(a.handleMessageCreate),
		s.AddHandler(a.handleReady),
		s.AddHandler(a.handleDisconnect),
	)
	if err := s.Open(); err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrConnection("failed to connect to discord", err)
	}

	a.session = s
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.SetStatus(true, "")
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway connection and the Messages channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	a.cancel()
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
	close(a.messages)

	if err := a.session.Close(); err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrConnection("failed to close discord session", err)
	}
	a.SetStatus(false, "")
	a.logger.Info("discord adapter stopped")
	return nil
}

// Send posts one message to a Discord channel.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	s := a.session
	started := a.started
	a.mu.Unlock()
	if !started || s == nil {
		return channels.ErrUnavailable("discord adapter not started", nil)
	}
	if strings.TrimSpace(msg.ChatID) == "" {
		return channels.ErrInvalidInput("discord channel id is required", nil)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	send := &discordgo.MessageSend{Content: msg.Text}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChatID}
	}
	if _, err := s.ChannelMessageSendComplex(msg.ChatID, send, discordgo.WithContext(ctx)); err != nil {
		a.logger.Error("failed to send message", "channel_id", msg.ChatID, "error", err)
		if isRateLimitError(err) {
			return channels.ErrRateLimit("discord rate limit exceeded", err)
		}
		return channels.ErrInternal("failed to send discord message", err)
	}
	return nil
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	msg := convertMessage(m.Message)
	if msg == nil {
		return
	}
	a.Ping()

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("messages channel full, dropping message", "channel_id", m.ChannelID)
	}
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.SetStatus(true, "")
	if r != nil && r.User != nil {
		a.logger.Info("discord connection ready", "user", r.User.Username, "guilds", len(r.Guilds))
	}
}

func (a *Adapter) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	a.SetStatus(false, "disconnected from discord")
	a.logger.Warn("disconnected from discord")
}

func convertMessage(m *discordgo.Message) *models.InboundMessage {
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return nil
	}
	msg := &models.InboundMessage{
		Channel:    models.ChannelDiscord,
		ChatID:     m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Text:       m.Content,
		Origin:     models.OriginChannel,
		ReceivedAt: time.Now(),
		Metadata: map[string]any{
			"message_id": m.ID,
		},
	}
	if !m.Timestamp.IsZero() {
		msg.ReceivedAt = m.Timestamp
	}
	if m.GuildID != "" {
		msg.Metadata["guild_id"] = m.GuildID
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:       att.ID,
			Type:     attachmentType(att.ContentType),
			URL:      att.URL,
			Filename: att.Filename,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		})
	}
	return msg
}

func attachmentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "document"
	}
}

func isRateLimitError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "Too Many Requests")
}

// Messages returns the inbound stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelDiscord
}
