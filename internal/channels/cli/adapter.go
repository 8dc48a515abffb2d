// Package cli provides a terminal chat channel backed by readline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// DefaultChatID is the chat every terminal message belongs to.
const DefaultChatID = "local"

// LineReader is the subset of *readline.Instance the adapter uses.
type LineReader interface {
	Readline() (string, error)
	Write(p []byte) (int, error)
	Close() error
}

// Config configures the terminal channel.
type Config struct {
	ChatID   string
	SenderID string
	Prompt   string

	// HistoryFile persists input history between runs. Empty disables it.
	HistoryFile string

	Stdin  io.ReadCloser
	Stdout io.Writer
	Logger *slog.Logger
}

// Adapter reads lines from the terminal and prints replies above the prompt.
type Adapter struct {
	channels.StatusTracker

	cfg      Config
	logger   *slog.Logger
	open     func(Config) (LineReader, error)
	messages chan *models.InboundMessage
	done     chan struct{}

	mu       sync.Mutex
	rl       LineReader
	started  bool
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewAdapter creates a terminal adapter.
func NewAdapter(cfg Config) *Adapter {
	if cfg.ChatID == "" {
		cfg.ChatID = DefaultChatID
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "user"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		cfg:      cfg,
		logger:   cfg.Logger.With("adapter", "cli"),
		open:     openReadline,
		messages: make(chan *models.InboundMessage, 16),
		done:     make(chan struct{}),
	}
}

func openReadline(cfg Config) (LineReader, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           cfg.Stdin,
		Stdout:          cfg.Stdout,
	})
}

// Start opens the terminal and begins reading lines.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return channels.ErrInternal("cli adapter already started", nil)
	}
	rl, err := a.open(a.cfg)
	if err != nil {
		a.SetStatus(false, err.Error())
		return channels.ErrConnection("open terminal", err)
	}
	a.rl = rl
	a.started = true
	a.SetStatus(true, "")

	a.wg.Add(1)
	go a.readLoop(ctx, rl)
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, rl LineReader) {
	defer a.wg.Done()
	defer a.finish()
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if strings.TrimSpace(line) == "" {
				return
			}
			continue
		case err != nil:
			if !errors.Is(err, io.EOF) {
				a.logger.Warn("terminal read failed", "error", err)
			}
			return
		}

		text := strings.TrimSpace(line)
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return
		}
		a.Ping()
		msg := &models.InboundMessage{
			ID:         uuid.NewString(),
			Channel:    models.ChannelCLI,
			ChatID:     a.cfg.ChatID,
			SenderID:   a.cfg.SenderID,
			SenderName: a.cfg.SenderID,
			Text:       text,
			Origin:     models.OriginChannel,
			ReceivedAt: time.Now(),
		}
		select {
		case a.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// finish signals that the user left the session.
func (a *Adapter) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Done is closed when the user exits with Ctrl-D, Ctrl-C or "exit".
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Stop closes the terminal and the Messages channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	rl := a.rl
	a.mu.Unlock()

	// Closing the reader unblocks Readline.
	err := rl.Close()
	waited := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return channels.ErrTimeout("cli adapter stop", ctx.Err())
	}
	close(a.messages)
	a.SetStatus(false, "")
	return err
}

// Send prints a reply above the prompt.
func (a *Adapter) Send(_ context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	rl := a.rl
	started := a.started
	a.mu.Unlock()
	if !started {
		return channels.ErrUnavailable("cli adapter not started", nil)
	}
	prefix := "agent"
	if msg.AgentID != "" {
		prefix = msg.AgentID
	}
	if msg.IsError {
		prefix += " (error)"
	}
	if _, err := fmt.Fprintf(rl, "%s> %s\n", prefix, msg.Text); err != nil {
		return channels.ErrInternal("write reply", err)
	}
	return nil
}

// Messages returns the inbound stream.
func (a *Adapter) Messages() <-chan *models.InboundMessage { return a.messages }

// Type returns models.ChannelCLI.
func (a *Adapter) Type() models.ChannelType { return models.ChannelCLI }
