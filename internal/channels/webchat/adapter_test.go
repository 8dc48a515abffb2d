package webchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/pkg/models"
)

func startServer(t *testing.T, cfg Config) (*Adapter, *httptest.Server) {
	t.Helper()
	adapter := NewAdapter(cfg)
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	srv := httptest.NewServer(adapter)
	t.Cleanup(func() {
		_ = adapter.Stop(context.Background())
		srv.Close()
	})
	return adapter, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return frame
}

func waitClients(t *testing.T, adapter *Adapter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for adapter.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", adapter.Clients(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRoundTrip(t *testing.T) {
	adapter, srv := startServer(t, Config{})
	conn := dial(t, srv, "chat_id=room-1")

	hello := readFrame(t, conn)
	if hello.Type != FrameHello || hello.ChatID != "room-1" {
		t.Fatalf("hello = %+v", hello)
	}

	if err := conn.WriteJSON(Frame{Type: FrameMessage, SenderID: "ada", Text: "hi there"}); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-adapter.Messages():
		if msg.Channel != models.ChannelWebChat || msg.ChatID != "room-1" || msg.SenderID != "ada" || msg.Text != "hi there" {
			t.Fatalf("inbound = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}

	err := adapter.Send(context.Background(), &models.OutboundMessage{ID: "o1", ChatID: "room-1", Text: "hello back"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	out := readFrame(t, conn)
	if out.Type != FrameMessage || out.Text != "hello back" || out.ID != "o1" {
		t.Fatalf("outbound frame = %+v", out)
	}
}

func TestGeneratedChatID(t *testing.T) {
	_, srv := startServer(t, Config{})
	conn := dial(t, srv, "")
	hello := readFrame(t, conn)
	if hello.ChatID == "" {
		t.Fatal("expected generated chat id")
	}
}

func TestInvalidFrame(t *testing.T) {
	_, srv := startServer(t, Config{})
	conn := dial(t, srv, "chat_id=x")
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error != "invalid frame" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestSendUnknownChat(t *testing.T) {
	adapter, _ := startServer(t, Config{})
	err := adapter.Send(context.Background(), &models.OutboundMessage{ChatID: "nobody", Text: "x"})
	if channels.GetErrorCode(err) != channels.ErrCodeNotFound {
		t.Fatalf("Send() error = %v, want not found", err)
	}
}

func TestAuthToken(t *testing.T) {
	adapter, srv := startServer(t, Config{AuthToken: "s3cret"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?chat_id=a"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}

	conn := dial(t, srv, "chat_id=a&token=s3cret")
	readFrame(t, conn)
	waitClients(t, adapter, 1)
}

func TestStopDisconnectsClients(t *testing.T) {
	adapter, srv := startServer(t, Config{})
	conn := dial(t, srv, "chat_id=z")
	readFrame(t, conn)
	waitClients(t, adapter, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := adapter.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if adapter.Clients() != 0 {
		t.Fatalf("Clients() = %d after Stop", adapter.Clients())
	}
	if _, ok := <-adapter.Messages(); ok {
		t.Fatal("messages channel should be closed")
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
