package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(quietLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func register(t *testing.T, hub *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{hub: hub, send: make(chan []byte, buffer), ready: make(chan struct{})}
	hub.register <- c
	<-c.ready
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)

	client := register(t, hub, 256)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("after register: ClientCount() = %d, want 1", got)
	}

	hub.unregister <- client
	time.Sleep(50 * time.Millisecond)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("after unregister: ClientCount() = %d, want 0", got)
	}
}

func TestHubPublishMultipleClients(t *testing.T) {
	hub := startHub(t)

	const n = 3
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = register(t, hub, 256)
	}

	hub.Publish(MsgModelsChanged, map[string]string{"source": "models/"})

	for i, c := range clients {
		if msg := receive(t, c); msg.Type != MsgModelsChanged {
			t.Errorf("client %d got %q", i, msg.Type)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := register(t, hub, 1)
	slow.send <- []byte("filler")

	hub.Publish(MsgAnalysisStarted, nil)
	time.Sleep(50 * time.Millisecond)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("slow client should be dropped, ClientCount() = %d, want 0", got)
	}
}

func TestSubscriptionFiltersEvents(t *testing.T) {
	hub := startHub(t)
	all := register(t, hub, 256)
	blocked := register(t, hub, 256)
	blocked.subscribe([]MessageType{MsgAnalysisBlocked})

	hub.Publish(MsgAnalysisComplete, nil)
	hub.Publish(MsgAnalysisBlocked, nil)
	hub.BroadcastError("boom")

	for _, want := range []MessageType{MsgAnalysisComplete, MsgAnalysisBlocked, MsgError} {
		if msg := receive(t, all); msg.Type != want {
			t.Errorf("unfiltered client got %q, want %q", msg.Type, want)
		}
	}
	for _, want := range []MessageType{MsgAnalysisBlocked, MsgError} {
		if msg := receive(t, blocked); msg.Type != want {
			t.Errorf("subscribed client got %q, want %q", msg.Type, want)
		}
	}

	blocked.subscribe(nil)
	if !blocked.wants(MsgCheckResult) {
		t.Error("an empty subscription should restore every event")
	}
}

func TestPublish(t *testing.T) {
	hub := startHub(t)
	client := register(t, hub, 256)

	hub.Publish(MsgAnalysisComplete, map[string]any{"id": "20260402T093000Z", "risk": "HIGH"})

	msg := receive(t, client)
	if msg.Type != MsgAnalysisComplete {
		t.Errorf("type = %q, want %q", msg.Type, MsgAnalysisComplete)
	}
	var p map[string]string
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload error: %v", err)
	}
	if p["risk"] != "HIGH" {
		t.Errorf("payload = %v", p)
	}
}

func TestBroadcastError(t *testing.T) {
	hub := startHub(t)
	client := register(t, hub, 256)

	hub.BroadcastError("cycle between billing and accounts")

	msg := receive(t, client)
	if msg.Type != MsgError {
		t.Errorf("type = %q, want %q", msg.Type, MsgError)
	}
	if !strings.Contains(string(msg.Payload), "billing") {
		t.Errorf("payload = %s", msg.Payload)
	}
}

func TestNewMessageNilPayload(t *testing.T) {
	data, err := NewMessage(MsgSync, nil)
	if err != nil {
		t.Fatalf("NewMessage error: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if msg.Type != MsgSync || msg.Payload != nil {
		t.Errorf("msg = %+v", msg)
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	hub := NewHub(quietLogger())
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()
	client := register(t, hub, 1)

	hub.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if _, ok := <-client.send; ok {
		t.Error("client channel should be closed")
	}
	// Publishing after Stop must not block.
	hub.Publish(MsgError, nil)
}

func TestHandleWebSocketSendsLatest(t *testing.T) {
	hub := startHub(t)
	hub.SetLatest(func() ([]byte, error) {
		return []byte(`{"id":"20260402T093000Z"}`), nil
	})

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MsgLatest || !strings.Contains(string(msg.Payload), "20260402T093000Z") {
		t.Errorf("greeting = %s", data)
	}

	sync, _ := NewMessage(MsgSync, nil)
	if err := conn.Write(ctx, websocket.MessageText, sync); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read after sync: %v", err)
	}
	if !strings.Contains(string(data), `"type":"latest"`) {
		t.Errorf("sync reply = %s", data)
	}
}

func TestHandleWebSocketSubscribe(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, _ := NewMessage(MsgSubscribe, Subscription{Types: []MessageType{MsgAnalysisBlocked}})
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MsgSubscribed || !strings.Contains(string(msg.Payload), "analysis_blocked") {
		t.Errorf("subscribe reply = %s", data)
	}

	hub.Publish(MsgAnalysisComplete, nil)
	hub.Publish(MsgAnalysisBlocked, map[string]string{"reason": "HIGH risk"})
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read event: %v", err)
	}
	if !strings.Contains(string(data), `"type":"analysis_blocked"`) {
		t.Errorf("event = %s, want only analysis_blocked", data)
	}
}
