package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/omochice/chat-client/internal/client/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestNetDialer_EchoRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer c.Close()

		// A ping before the echo must be answered transparently.
		if err := c.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
			return
		}
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			t.Errorf("message type = %d, want text", mt)
		}
		c.WriteMessage(websocket.TextMessage, append([]byte("echo:"), data...))
		c.ReadMessage()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := ws.NetDialer{}.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Write(ctx, []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "echo:hello" {
		t.Errorf("Read() = %q, want %q", data, "echo:hello")
	}
}

func TestNetDialer_ServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
		c.Close()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := ws.NetDialer{}.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Read(ctx); err == nil {
		t.Error("Read() after server close returned nil error")
	}
}

func TestNetDialer_Refused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := (ws.NetDialer{}).Dial(ctx, wsURL); err == nil {
		t.Error("Dial() to a closed server returned nil error")
	}
}

func TestClient_OverNetwork(t *testing.T) {
	tokens := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"update_friend"}`))
		c.ReadMessage()
	}))
	defer server.Close()

	received := make(chan string, 1)
	client := ws.New(ws.Config{
		URL:   "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		Token: func() string { return "tok" },
	})
	client.Subscribe(func(frame []byte) { received <- string(frame) })
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	select {
	case got := <-tokens:
		if got != "tok" {
			t.Errorf("token = %q, want tok", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}
	select {
	case got := <-received:
		if got != `{"type":"update_friend"}` {
			t.Errorf("frame = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}
