// Package slack implements the Slack channel over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// APIClient is the part of the Slack Web API the adapter uses.
type APIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SocketClient is the Socket Mode connection.
type SocketClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
	Events() <-chan socketmode.Event
}

var _ APIClient = (*slack.Client)(nil)

type socketModeClient struct {
	*socketmode.Client
}

func (c socketModeClient) Events() <-chan socketmode.Event {
	return c.Client.Events
}

// Config holds the configuration for the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode

	// RateLimit is the send rate in messages per second (default 1).
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return channels.ErrConfig("slack bot token is required", nil)
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return channels.ErrConfig("slack app token must start with xapp-", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 1
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	channels.StatusTracker

	cfg       Config
	newClient func(cfg Config) (APIClient, SocketClient)
	client    APIClient
	socket    SocketClient
	messages  chan *models.InboundMessage
	limiter   *channels.RateLimiter
	logger    *slog.Logger

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	botUserID string
}

// NewAdapter creates a new Slack adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:       cfg,
		newClient: newClients,
		messages:  make(chan *models.InboundMessage, 100),
		limiter:   channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    cfg.Logger.With("adapter", "slack"),
	}, nil
}

func newClients(cfg Config) (APIClient, SocketClient) {
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return client, socketModeClient{socketmode.New(client)}
}

// Start authenticates and opens the Socket Mode connection.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return channels.ErrInternal("slack adapter already started", nil)
	}

	client, socket := a.newClient(a.cfg)
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrAuthentication("failed to authenticate with slack", err)
	}
	a.client = client
	a.socket = socket
	a.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.handleEvents(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		if err := socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.SetStatus(false, fmt.Sprintf("socket mode error: %v", err))
			a.logger.Error("socket mode stopped", "error", err)
		}
	}()

	a.SetStatus(true, "")
	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID)
	return nil
}

// Stop shuts down the connection and closes the Messages channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.cancel()
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(a.messages)
		a.SetStatus(false, "")
		return nil
	case <-ctx.Done():
		a.SetStatus(false, "shutdown timeout")
		return channels.ErrTimeout("slack shutdown timed out", ctx.Err())
	}
}

// Send posts a message. A ReplyTo value is used as the thread timestamp.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	client := a.client
	started := a.started
	a.mu.Unlock()
	if !started || client == nil {
		return channels.ErrUnavailable("slack adapter not started", nil)
	}
	if strings.TrimSpace(msg.ChatID) == "" {
		return channels.ErrInvalidInput("slack channel id is required", nil)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	options := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ReplyTo != "" {
		options = append(options, slack.MsgOptionTS(msg.ReplyTo))
	}
	if _, _, err := client.PostMessageContext(ctx, msg.ChatID, options...); err != nil {
		a.logger.Error("failed to send message", "channel_id", msg.ChatID, "error", err)
		var rateErr *slack.RateLimitedError
		if errors.As(err, &rateErr) || strings.Contains(err.Error(), "rate_limited") {
			return channels.ErrRateLimit("slack rate limit exceeded", err)
		}
		return channels.ErrInternal("failed to send slack message", err)
	}
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	events := a.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			a.Ping()

			switch event.Type {
			case socketmode.EventTypeConnectionError:
				a.SetStatus(false, "connection error")
				a.logger.Warn("socket mode connection error", "data", event.Data)
			case socketmode.EventTypeConnected:
				a.SetStatus(true, "")
			case socketmode.EventTypeEventsAPI:
				a.ack(event)
				a.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				a.ack(event)
			}
		}
	}
}

func (a *Adapter) ack(event socketmode.Event) {
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok || apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	var ev *slackevents.MessageEvent
	switch inner := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		ev = &slackevents.MessageEvent{
			User:            inner.User,
			Text:            inner.Text,
			Channel:         inner.Channel,
			TimeStamp:       inner.TimeStamp,
			ThreadTimeStamp: inner.ThreadTimeStamp,
		}
	case *slackevents.MessageEvent:
		if inner.BotID != "" || (inner.SubType != "" && inner.SubType != "file_share") {
			return
		}
		// Channel mentions also arrive as app_mention events.
		if inner.ChannelType != "im" && inner.ThreadTimeStamp == "" {
			return
		}
		ev = inner
	default:
		return
	}

	a.mu.Lock()
	botUserID := a.botUserID
	a.mu.Unlock()
	if ev.User == "" || ev.User == botUserID {
		return
	}

	msg := convertMessage(ev, botUserID)
	if msg == nil {
		return
	}
	select {
	case a.messages <- msg:
	case <-ctx.Done():
	default:
		a.logger.Warn("messages channel full, dropping message", "channel_id", ev.Channel)
	}
}

func convertMessage(ev *slackevents.MessageEvent, botUserID string) *models.InboundMessage {
	text := ev.Text
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	receivedAt := time.Now()
	if ts, err := parseTimestamp(ev.TimeStamp); err == nil {
		receivedAt = ts
	}

	return &models.InboundMessage{
		Channel:    models.ChannelSlack,
		ChatID:     ev.Channel,
		SenderID:   ev.User,
		Text:       text,
		Origin:     models.OriginChannel,
		ReceivedAt: receivedAt,
		Metadata: map[string]any{
			"ts":        ev.TimeStamp,
			"thread_ts": threadTS,
		},
	}
}

// parseTimestamp converts a Slack "seconds.micros" timestamp.
func parseTimestamp(ts string) (time.Time, error) {
	sec, frac, ok := strings.Cut(ts, ".")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q", ts)
	}
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	us, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(s, us*1000), nil
}

// Messages returns the inbound stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelSlack
}
