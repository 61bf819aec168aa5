package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

func TestWebSocketBroadcast(t *testing.T) {
	ws := NewWebSocketServer(nil)
	ws.Start()
	defer ws.Stop()

	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the server side to register the client.
	deadline := time.Now().Add(time.Second)
	for ws.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ws.Notify(types.IndicatorUpdate{
		TabID:   3,
		Status:  types.IndicatorSuccess,
		Message: "Verified: Token",
		Badge:   "✓",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got types.IndicatorUpdate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != types.IndicatorSuccess || got.Message != "Verified: Token" || got.TabID != 3 {
		t.Errorf("update = %+v, want broadcast payload", got)
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	ws := NewWebSocketServer(nil)

	for i := 0; i < 100; i++ {
		ws.Notify(types.IndicatorUpdate{Status: types.IndicatorLoading})
	}
	// Reaching here without blocking is the assertion.
	if ws.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", ws.ClientCount())
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{name: "no origin header", origin: "", host: "localhost:3001", want: true},
		{name: "same host", origin: "http://localhost:3001", host: "localhost:3001", want: true},
		{name: "localhost dev server", origin: "http://localhost:5173", host: "example.com", want: true},
		{name: "chrome extension", origin: "chrome-extension://abcdef", host: "example.com", want: true},
		{name: "firefox extension", origin: "moz-extension://abcdef", host: "example.com", want: true},
		{name: "foreign site", origin: "https://evil.example.com", host: "example.com", want: false},
		{name: "garbage origin", origin: "://bad", host: "example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://"+tt.host+"/v1/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := upgrader.CheckOrigin(req); got != tt.want {
				t.Errorf("CheckOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
