package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, *Bus) {
	t.Helper()
	bus := newTestBus(t)
	hub, err := NewHub(bus)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	stop := make(chan struct{})
	go hub.Run(stop)
	t.Cleanup(func() { close(stop) })
	return hub, bus
}

func TestHub_RelaysPublishedEventToWebSocketClient(t *testing.T) {
	hub, bus := newTestHub(t)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial test hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Give the hub's register channel a moment to process the new client
	// before publishing, since registration happens on a separate goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for client to register")
		}
		time.Sleep(10 * time.Millisecond)
	}

	evt := New(TaskAssigned, TaskTarget("t-1"), map[string]any{"assignedTo": "president"})
	if err := bus.Publish(evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read relayed message: %v", err)
	}
	if !strings.Contains(string(data), string(TaskAssigned)) {
		t.Errorf("expected relayed message to carry the event type, got %s", data)
	}
}

func TestHub_ClientCountDropsOnDisconnect(t *testing.T) {
	hub, _ := newTestHub(t)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial test hub: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for client to register")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for client count to drop to zero")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
