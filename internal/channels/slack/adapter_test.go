package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

type fakeAPI struct {
	mu       sync.Mutex
	authErr  error
	postErr  error
	channels []string
	posts    int
}

func (f *fakeAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{UserID: "UBOT"}, nil
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.channels = append(f.channels, channelID)
	f.posts++
	return channelID, "1.1", nil
}

type fakeSocket struct {
	events chan socketmode.Event
	mu     sync.Mutex
	acks   int
}

func (f *fakeSocket) RunContext(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeSocket) Ack(socketmode.Request, ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
}

func (f *fakeSocket) Events() <-chan socketmode.Event { return f.events }

func (f *fakeSocket) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks
}

func startAdapter(t *testing.T, api *fakeAPI) (*Adapter, *fakeSocket) {
	t.Helper()
	adapter, err := NewAdapter(Config{BotToken: "xoxb-1", AppToken: "xapp-1"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	socket := &fakeSocket{events: make(chan socketmode.Event, 4)}
	adapter.newClient = func(Config) (APIClient, SocketClient) { return api, socket }
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = adapter.Stop(ctx)
	})
	return adapter, socket
}

func eventsAPI(inner interface{}) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Data: inner},
		},
		Request: &socketmode.Request{EnvelopeID: "env"},
	}
}

func receive(t *testing.T, adapter *Adapter) *models.InboundMessage {
	t.Helper()
	select {
	case msg := <-adapter.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no inbound message")
		return nil
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing bot token", Config{AppToken: "xapp-1"}},
		{"bad app token", Config{BotToken: "xoxb-1", AppToken: "xoxb-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); channels.GetErrorCode(err) != channels.ErrCodeConfig {
				t.Fatalf("Validate() error = %v, want config error", err)
			}
		})
	}
}

func TestAppMention(t *testing.T) {
	adapter, socket := startAdapter(t, &fakeAPI{})

	socket.events <- eventsAPI(&slackevents.AppMentionEvent{
		User:      "U1",
		Text:      "<@UBOT> what's up",
		Channel:   "C1",
		TimeStamp: "1767225600.000100",
	})

	msg := receive(t, adapter)
	if msg.ChatID != "C1" || msg.SenderID != "U1" || msg.Text != "what's up" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Metadata["thread_ts"] != "1767225600.000100" {
		t.Fatalf("thread_ts = %v", msg.Metadata["thread_ts"])
	}
	if want := time.Unix(1767225600, 100000); !msg.ReceivedAt.Equal(want) {
		t.Fatalf("ReceivedAt = %v, want %v", msg.ReceivedAt, want)
	}
	if socket.ackCount() != 1 {
		t.Fatalf("acks = %d, want 1", socket.ackCount())
	}
}

func TestDirectMessageFiltering(t *testing.T) {
	adapter, socket := startAdapter(t, &fakeAPI{})

	socket.events <- eventsAPI(&slackevents.MessageEvent{User: "U1", Text: "bot says", Channel: "D1", ChannelType: "im", BotID: "B1", TimeStamp: "1.000001"})
	socket.events <- eventsAPI(&slackevents.MessageEvent{User: "U1", Text: "channel chatter", Channel: "C1", ChannelType: "channel", TimeStamp: "1.000002"})
	socket.events <- eventsAPI(&slackevents.MessageEvent{User: "U1", Text: "hello", Channel: "D1", ChannelType: "im", TimeStamp: "1.000003"})

	msg := receive(t, adapter)
	if msg.Text != "hello" || msg.ChatID != "D1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSend(t *testing.T) {
	api := &fakeAPI{}
	adapter, _ := startAdapter(t, api)

	if err := adapter.Send(context.Background(), &models.OutboundMessage{ChatID: "C1", Text: "hi", ReplyTo: "1.1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if api.posts != 1 || api.channels[0] != "C1" {
		t.Fatalf("posts = %d channels = %v", api.posts, api.channels)
	}

	api.postErr = &slack.RateLimitedError{RetryAfter: time.Second}
	err := adapter.Send(context.Background(), &models.OutboundMessage{ChatID: "C1", Text: "again"})
	if channels.GetErrorCode(err) != channels.ErrCodeRateLimit {
		t.Fatalf("Send() error = %v, want rate limit", err)
	}
}

func TestStartAuthFailure(t *testing.T) {
	adapter, err := NewAdapter(Config{BotToken: "xoxb-1", AppToken: "xapp-1"})
	if err != nil {
		t.Fatal(err)
	}
	adapter.newClient = func(Config) (APIClient, SocketClient) {
		return &fakeAPI{authErr: errors.New("invalid_auth")}, &fakeSocket{}
	}
	if err := adapter.Start(context.Background()); channels.GetErrorCode(err) != channels.ErrCodeAuthentication {
		t.Fatalf("Start() error = %v, want auth error", err)
	}
	if err := adapter.Send(context.Background(), &models.OutboundMessage{ChatID: "C1", Text: "x"}); channels.GetErrorCode(err) != channels.ErrCodeUnavailable {
		t.Fatalf("Send() error = %v, want unavailable", err)
	}
}
