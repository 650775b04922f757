// Package ws pushes bus events to connected users over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/logger"
)

// Channel is the delivery-gap label of this transport.
const Channel = "ws"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type client struct {
	user string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks the open connections of each user. A user may hold several.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	onGap    events.GapFunc
	log      logger.Logger
}

// NewHub creates a Hub. onGap may be nil.
func NewHub(onGap events.GapFunc, log logger.Logger) *Hub {
	if onGap == nil {
		onGap = func(string, string, events.Event) {}
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		onGap: onGap,
		log:   log,
	}
}

// Connected returns the number of open connections for user.
func (h *Hub) Connected(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[user])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.user]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.user] = set
	}
	set[c] = struct{}{}
	h.log.Debugf("websocket client registered: %s", c.user)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.user]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.user)
	}
	c.close()
	h.log.Debugf("websocket client unregistered: %s", c.user)
}

// Deliver queues ev for every connection of every recipient. Users with no
// open connection are skipped; they catch up through the poll path. A
// connection whose queue is full misses the event and counts as a gap.
func (h *Hub) Deliver(ev events.Event) {
	if len(ev.Recipients) == 0 {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorf("marshal %s event %s: %v", ev.Kind, ev.ID, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, user := range ev.Recipients {
		for c := range h.clients[user] {
			select {
			case c.send <- msg:
			default:
				h.onGap(Channel, user, ev)
			}
		}
	}
}

// Run delivers events from ch until ctx is done or ch is closed.
func (h *Hub) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Deliver(ev)
		}
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for user, set := range h.clients {
		for c := range set {
			c.close()
		}
		delete(h.clients, user)
	}
}

// ServeWS upgrades the request and serves user's connection until the
// peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{user: user, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warnf("websocket read %s: %v", c.user, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warnf("websocket write %s: %v", c.user, err)
				var ev events.Event
				_ = json.Unmarshal(msg, &ev)
				h.onGap(Channel, c.user, ev)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
