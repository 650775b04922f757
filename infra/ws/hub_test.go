package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/infra/logger"
)

func dial(t *testing.T, h *Hub, user string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return h.Connected(user) > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func TestDeliverToRecipient(t *testing.T) {
	h := NewHub(nil, logger.NopLogger{})
	defer h.Close()
	conn := dial(t, h, "mover-b")

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	o := model.Offer{ID: "o1", MoveID: "m1", MoverID: "mover-b", Status: model.OfferPending, SentAt: now, ExpiresAt: now.Add(time.Minute)}
	h.Deliver(events.OfferCreated(o, now))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		ID   string      `json:"id"`
		Kind events.Kind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, events.KindOfferCreated, got.Kind)
	assert.NotContains(t, string(msg), "recipients")
}

func TestRunStopsOnCancel(t *testing.T) {
	h := NewHub(nil, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, make(chan events.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestFullQueueCountsGap(t *testing.T) {
	var (
		mu   sync.Mutex
		gaps []string
	)
	h := NewHub(func(channel, user string, _ events.Event) {
		mu.Lock()
		gaps = append(gaps, channel+":"+user)
		mu.Unlock()
	}, logger.NopLogger{})
	// Registered without a write pump so nothing drains the queue.
	c := &client{user: "client-a", send: make(chan []byte, 1)}
	h.register(c)

	ev := events.Event{ID: "m1", Kind: events.KindMoveAssigned, Recipients: []string{"client-a", "offline"}}
	h.Deliver(ev)
	h.Deliver(ev)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ws:client-a"}, gaps)
}

func TestUnregisterOnDisconnect(t *testing.T) {
	h := NewHub(nil, logger.NopLogger{})
	conn := dial(t, h, "u1")
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Connected("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
