package events

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketBufferSize bounds how many pending broadcasts a slow browser
// client may queue before it is dropped, mirroring the teacher's hub.go.
const WebSocketBufferSize = 256

// Message is the envelope every WebSocket frame carries, mirroring the
// teacher's WSMessage{Type, Data} convention so a browser client can
// pattern-match on Type without inspecting Data's shape.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is a single connected browser.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub relays every event published on the Bus to connected WebSocket
// clients. It is itself just a TargetAll subscriber of the Bus (§4.9),
// not a privileged path.
type Hub struct {
	bus *Bus

	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	cancelSub func()
}

// NewHub creates a hub and subscribes it to every event on the bus.
func NewHub(bus *Bus) (*Hub, error) {
	events, cancel, err := bus.Subscribe(TargetAll, nil)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		bus:        bus,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, WebSocketBufferSize),
		cancelSub:  cancel,
	}

	go h.relayEvents(events)
	return h, nil
}

// relayEvents forwards every bus event to connected clients as a Message.
func (h *Hub) relayEvents(events <-chan Event) {
	for evt := range events {
		data, err := json.Marshal(Message{Type: string(evt.Type), Data: evt})
		if err != nil {
			log.Printf("[EVENTS] failed to encode event %s for ws relay: %v", evt.ID, err)
			continue
		}
		h.broadcast <- data
	}
}

// Run is the hub's main loop; call it in its own goroutine and close
// stop to end it.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.cancelSub()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					log.Printf("[EVENTS] dropping slow websocket client")
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount reports how many browsers are currently attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a WebSocket and attaches it to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EVENTS] websocket upgrade failed: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// Client-initiated requests (§6 Client RPC) are handled by the
		// HTTP control surface, not this push channel.
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
