// Package webchat serves a browser chat channel over WebSockets.
package webchat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	maxFrameBytes = 64 << 10
	pongWait      = 45 * time.Second
	pingInterval  = 30 * time.Second
	writeWait     = 10 * time.Second
	sendBuffer    = 32
)

// Frame is the JSON envelope exchanged with browser clients.
type Frame struct {
	Type       string    `json:"type"`
	ID         string    `json:"id,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time,omitempty"`
}

// Frame types.
const (
	FrameHello   = "hello"
	FrameMessage = "message"
	FrameError   = "error"
)

// Config configures the webchat endpoint.
type Config struct {
	// AuthToken, when set, must be sent as a bearer token or ?token= query.
	AuthToken string

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter and http.Handler.
type Adapter struct {
	channels.StatusTracker

	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	messages chan *models.InboundMessage

	mu      sync.RWMutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	clients map[string]map[*client]struct{}
	wg      sync.WaitGroup
}

type client struct {
	conn   *websocket.Conn
	chatID string
	send   chan Frame
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewAdapter creates a webchat adapter.
func NewAdapter(cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Adapter{
		cfg:      cfg,
		logger:   cfg.Logger.With("adapter", "webchat"),
		messages: make(chan *models.InboundMessage, 100),
		clients:  make(map[string]map[*client]struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// Start enables the endpoint.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return channels.ErrInternal("webchat adapter already started", nil)
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.SetStatus(true, "")
	return nil
}

// Stop disconnects every client and closes the Messages channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.cancel()
	for _, set := range a.clients {
		for c := range set {
			c.close()
		}
	}
	a.clients = make(map[string]map[*client]struct{})
	close(a.messages)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.SetStatus(false, "")
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("webchat shutdown timed out", ctx.Err())
	}
}

// Send delivers a message to every connection open on the chat.
func (a *Adapter) Send(_ context.Context, msg *models.OutboundMessage) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.started {
		return channels.ErrUnavailable("webchat adapter not started", nil)
	}
	set := a.clients[msg.ChatID]
	if len(set) == 0 {
		return channels.ErrNotFound("no webchat client for chat "+msg.ChatID, nil)
	}

	frame := Frame{
		Type:    FrameMessage,
		ID:      msg.ID,
		ChatID:  msg.ChatID,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
		Time:    msg.CreatedAt,
	}
	if msg.IsError {
		frame.Type = FrameError
		frame.Error = msg.Text
	}
	delivered := 0
	for c := range set {
		select {
		case c.send <- frame:
			delivered++
		default:
			a.logger.Warn("client send buffer full", "chat_id", msg.ChatID)
		}
	}
	if delivered == 0 {
		return channels.ErrRateLimit("webchat client buffers full", nil)
	}
	return nil
}

// ServeHTTP upgrades the request and serves one client. The chat id comes
// from the chat_id query parameter or is generated.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()
	if !started {
		http.Error(w, "webchat unavailable", http.StatusServiceUnavailable)
		return
	}
	if !a.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		chatID = uuid.NewString()
	}
	c := &client{
		conn:   conn,
		chatID: chatID,
		send:   make(chan Frame, sendBuffer),
		done:   make(chan struct{}),
	}
	if !a.register(c) {
		c.close()
		return
	}
	defer a.unregister(c)

	c.send <- Frame{Type: FrameHello, ChatID: chatID, Time: time.Now()}
	go a.writeLoop(c)
	a.readLoop(c)
}

func (a *Adapter) register(c *client) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return false
	}
	set := a.clients[c.chatID]
	if set == nil {
		set = make(map[*client]struct{})
		a.clients[c.chatID] = set
	}
	set[c] = struct{}{}
	a.wg.Add(1)
	a.logger.Debug("webchat client connected", "chat_id", c.chatID)
	return true
}

func (a *Adapter) unregister(c *client) {
	c.close()
	a.mu.Lock()
	if set := a.clients[c.chatID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(a.clients, c.chatID)
		}
	}
	a.mu.Unlock()
	a.wg.Done()
}

func (a *Adapter) readLoop(c *client) {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.reply(c, Frame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		if frame.Type != "" && frame.Type != FrameMessage {
			a.reply(c, Frame{Type: FrameError, Error: "unsupported frame type " + frame.Type})
			continue
		}
		if strings.TrimSpace(frame.Text) == "" {
			continue
		}
		a.Ping()
		a.publish(c, frame)
	}
}

func (a *Adapter) publish(c *client, frame Frame) {
	senderID := frame.SenderID
	if senderID == "" {
		senderID = c.chatID
	}
	msg := &models.InboundMessage{
		ID:         frame.ID,
		Channel:    models.ChannelWebChat,
		ChatID:     c.chatID,
		SenderID:   senderID,
		SenderName: frame.SenderName,
		Text:       frame.Text,
		Origin:     models.OriginChannel,
		ReceivedAt: time.Now(),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.started {
		return
	}
	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("messages channel full, dropping message", "chat_id", c.chatID)
		a.reply(c, Frame{Type: FrameError, Error: "server busy"})
	}
}

func (a *Adapter) reply(c *client, frame Frame) {
	select {
	case c.send <- frame:
	default:
	}
}

func (a *Adapter) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteJSON(frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (a *Adapter) authorized(r *http.Request) bool {
	if a.cfg.AuthToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		token = bearer
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.AuthToken)) == 1
}

func (a *Adapter) checkOrigin(r *http.Request) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Clients returns the number of open connections.
func (a *Adapter) Clients() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, set := range a.clients {
		n += len(set)
	}
	return n
}

// Messages returns the inbound stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelWebChat
}
