// Package telegram implements the Telegram channel using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// RateLimit is the send rate in messages per second (default 30).
	RateLimit float64

	// RateBurst is the burst size for sends (default 20).
	RateBurst int

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return channels.ErrConfig("telegram token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	channels.StatusTracker

	config   Config
	client   BotClient
	newBot   func(token string, handler bot.HandlerFunc) (BotClient, error)
	messages chan *models.InboundMessage
	limiter  *channels.RateLimiter
	logger   *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		newBot:   newBot,
		messages: make(chan *models.InboundMessage, 100),
		limiter:  channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:   config.Logger.With("adapter", "telegram"),
	}, nil
}

func newBot(token string, handler bot.HandlerFunc) (BotClient, error) {
	return bot.New(token, bot.WithDefaultHandler(handler))
}

// Start connects to Telegram and starts long polling.
func (a *Adapter) Start(ctx context.Context) error {
	client, err := a.newBot(a.config.Token, a.handleUpdate)
	if err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrAuthentication("failed to create telegram bot", err)
	}
	a.client = client

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.SetStatus(true, "")
	a.logger.Info("telegram adapter started")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.closeMessages()
		// Start blocks until ctx is cancelled; the library retries failed
		// polls itself.
		client.Start(ctx)
		a.SetStatus(false, "")
	}()
	return nil
}

// Stop cancels polling and waits for it to finish.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.closeMessages()
		a.logger.Info("telegram adapter stopped")
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("telegram stop timed out", ctx.Err())
	}
}

func (a *Adapter) closeMessages() {
	a.closeOnce.Do(func() { close(a.messages) })
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update == nil || update.Message == nil {
		return
	}
	msg := convertMessage(update.Message)
	if msg == nil {
		return
	}
	a.Ping()
	select {
	case a.messages <- msg:
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", msg.ChatID)
	}
}

func convertMessage(m *tgmodels.Message) *models.InboundMessage {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	msg := &models.InboundMessage{
		Channel:    models.ChannelTelegram,
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Text:       text,
		Origin:     models.OriginChannel,
		ReceivedAt: time.Unix(int64(m.Date), 0),
		Metadata: map[string]any{
			"message_id": m.ID,
			"chat_type":  string(m.Chat.Type),
		},
	}
	if m.From != nil {
		msg.SenderID = strconv.FormatInt(m.From.ID, 10)
		msg.SenderName = m.From.Username
		if msg.SenderName == "" {
			msg.SenderName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		}
	}
	return msg
}

// Send delivers one message to a Telegram chat.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	if a.client == nil {
		return channels.ErrUnavailable("telegram adapter not started", nil)
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return channels.ErrInvalidInput(fmt.Sprintf("invalid telegram chat id %q", msg.ChatID), err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
	}
	if replyTo, err := strconv.Atoi(msg.ReplyTo); err == nil && replyTo > 0 {
		params.ReplyParameters = &tgmodels.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if _, err := a.client.SendMessage(ctx, params); err != nil {
		a.logger.Error("failed to send message", "chat_id", chatID, "error", err)
		if isRateLimitError(err) {
			return channels.ErrRateLimit("telegram rate limit exceeded", err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return channels.ErrTimeout("telegram send cancelled", err)
		}
		return channels.ErrInternal("failed to send telegram message", err)
	}
	return nil
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "429")
}

// Messages returns the inbound stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelTelegram
}
