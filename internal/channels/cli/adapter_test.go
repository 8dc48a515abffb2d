package cli

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chzyer/readline"

	"github.com/haasonsaas/clawcore/pkg/models"
)

type fakeReader struct {
	lines  chan string
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out strings.Builder
}

func newFakeReader() *fakeReader {
	return &fakeReader{lines: make(chan string, 8), closed: make(chan struct{})}
}

func (f *fakeReader) Readline() (string, error) {
	select {
	case line, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		if line == "^C" {
			return "", readline.ErrInterrupt
		}
		return line, nil
	case <-f.closed:
		return "", io.EOF
	}
}

func (f *fakeReader) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakeReader) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeReader) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func startAdapter(t *testing.T, reader *fakeReader) *Adapter {
	t.Helper()
	a := NewAdapter(Config{SenderID: "alice"})
	a.open = func(Config) (LineReader, error) { return reader, nil }
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestAdapterPublishesLines(t *testing.T) {
	reader := newFakeReader()
	a := startAdapter(t, reader)

	reader.lines <- "   "
	reader.lines <- "  what's the weather?  "

	select {
	case msg := <-a.Messages():
		if msg.Text != "what's the weather?" || msg.Channel != models.ChannelCLI || msg.ChatID != DefaultChatID || msg.SenderID != "alice" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
	if !a.Status().Connected {
		t.Fatal("expected connected status")
	}
}

func TestAdapterExitClosesDone(t *testing.T) {
	for _, input := range []string{"exit", "/quit", "^C"} {
		t.Run(input, func(t *testing.T) {
			reader := newFakeReader()
			a := startAdapter(t, reader)
			reader.lines <- input
			select {
			case <-a.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("%q did not end the session", input)
			}
		})
	}
}

func TestAdapterSendWritesAbovePrompt(t *testing.T) {
	reader := newFakeReader()
	a := startAdapter(t, reader)

	if err := a.Send(context.Background(), &models.OutboundMessage{AgentID: "main", Text: "sunny"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send(context.Background(), &models.OutboundMessage{Text: "boom", IsError: true}); err != nil {
		t.Fatalf("Send error reply: %v", err)
	}
	want := "main> sunny\nagent (error)> boom\n"
	if got := reader.Output(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestAdapterStopClosesMessages(t *testing.T) {
	reader := newFakeReader()
	a := NewAdapter(Config{})
	a.open = func(Config) (LineReader, error) { return reader, nil }
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := <-a.Messages(); ok {
		t.Fatal("expected closed messages channel")
	}
	if err := a.Send(context.Background(), &models.OutboundMessage{Text: "late"}); err == nil {
		t.Fatal("expected Send after Stop to fail")
	}
	if a.Status().Connected {
		t.Fatal("expected disconnected status")
	}
}
