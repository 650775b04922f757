package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/infra/logger"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func offer(id string, sent time.Duration) model.Offer {
	return model.Offer{
		ID:        id,
		MoveID:    "move-" + id,
		MoverID:   "mover-a",
		Status:    model.OfferPending,
		SentAt:    t0.Add(sent),
		ExpiresAt: t0.Add(sent + time.Minute),
	}
}

func envelope(t *testing.T, kind events.Kind, o model.Offer) Envelope {
	t.Helper()
	p, err := json.Marshal(o)
	require.NoError(t, err)
	return Envelope{ID: o.ID, Kind: kind, ServerTime: o.SentAt, Payload: p}
}

func TestPushAndPollConverge(t *testing.T) {
	clk := &clock{t: t0.Add(time.Second)}
	in := New(clk.Now)
	o := offer("o1", 0)

	added, err := in.Apply(envelope(t, events.KindOfferCreated, o))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 0, in.Reconcile([]model.Offer{o}, clk.Now()), "poll must not surface the pushed offer twice")
	assert.Len(t, in.Pending(), 1)
}

func TestResolvedOfferNeverResurfaces(t *testing.T) {
	clk := &clock{t: t0.Add(time.Second)}
	in := New(clk.Now)
	o := offer("o1", 0)
	require.True(t, in.Add(o))

	in.Resolve(o.ID)
	assert.False(t, in.Add(o))
	assert.Equal(t, 0, in.Reconcile([]model.Offer{o}, clk.Now()))
	_, ok := in.Current()
	assert.False(t, ok)
}

func TestLocallyExpiredOfferIsTombstoned(t *testing.T) {
	clk := &clock{t: t0.Add(time.Second)}
	in := New(clk.Now)
	o := offer("o1", 0)
	require.True(t, in.Add(o))

	clk.Add(time.Minute)
	assert.Empty(t, in.Pending())
	assert.True(t, in.Resolved(o.ID))
	assert.False(t, in.Add(o), "a late push of an expired offer stays hidden")
}

func TestClosedEventTombstones(t *testing.T) {
	in := New(func() time.Time { return t0 })
	o := offer("o1", 0)
	require.True(t, in.Add(o))
	_, err := in.Apply(envelope(t, events.KindOfferClosed, o))
	require.NoError(t, err)
	assert.True(t, in.Resolved(o.ID))
}

func TestCurrentIsNewest(t *testing.T) {
	in := New(func() time.Time { return t0.Add(10 * time.Second) })
	in.Add(offer("old", 0))
	in.Add(offer("new", 5*time.Second))
	cur, ok := in.Current()
	require.True(t, ok)
	assert.Equal(t, "new", cur.ID)
}

func TestReconcileKeepsOffersNewerThanQuery(t *testing.T) {
	in := New(func() time.Time { return t0.Add(10 * time.Second) })
	in.Add(offer("closed", 0))
	in.Add(offer("fresh", 9*time.Second))

	in.Reconcile(nil, t0.Add(5*time.Second))
	assert.True(t, in.Resolved("closed"))
	assert.False(t, in.Resolved("fresh"))
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"kind":"offer.created"}`))
	assert.Error(t, err)
	env, err := DecodeEnvelope([]byte(`{"id":"o1","kind":"offer.closed","server_time":"2026-03-02T09:00:00Z","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, events.KindOfferClosed, env.Kind)
	assert.True(t, env.ServerTime.Equal(t0))
}

type mockLister struct{ mock.Mock }

func (m *mockLister) ListOpen(ctx context.Context) ([]model.Offer, time.Time, error) {
	args := m.Called(ctx)
	offers, _ := args.Get(0).([]model.Offer)
	return offers, args.Get(1).(time.Time), args.Error(2)
}

func TestPollerFeedsInbox(t *testing.T) {
	clk := &clock{t: t0.Add(time.Second)}
	in := New(clk.Now)
	l := &mockLister{}
	l.On("ListOpen", mock.Anything).Return([]model.Offer{offer("o1", 0)}, clk.Now(), nil).Once()
	l.On("ListOpen", mock.Anything).Return(nil, time.Time{}, errors.New("boom")).Once()

	changes := 0
	p := NewPoller(l, in, time.Second, logger.NopLogger{}, func() { changes++ })
	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = p.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, changes)
	assert.Len(t, in.Pending(), 1)
	l.AssertExpectations(t)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	in := New(nil)
	l := &mockLister{}
	l.On("ListOpen", mock.Anything).Return([]model.Offer{}, time.Now(), nil)
	p := NewPoller(l, in, 5*time.Millisecond, logger.NopLogger{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	l.AssertCalled(t, "ListOpen", mock.Anything)
}

func TestHTTPLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/offers/open" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(openOffersResponse{Offers: []model.Offer{offer("o1", 0)}, ServerTime: t0})
	}))
	defer srv.Close()

	offers, at, err := (&HTTPLister{BaseURL: srv.URL + "/", Token: "tok"}).ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "o1", offers[0].ID)
	assert.True(t, at.Equal(t0))

	_, _, err = (&HTTPLister{BaseURL: srv.URL, Token: "bad"}).ListOpen(context.Background())
	assert.Error(t, err)
}

func TestListenDeliversFrames(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"o1","kind":"offer.closed","server_time":"2026-03-02T09:00:00Z"}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(chan Envelope, 1)
	go func() {
		_ = Listen(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "tok", func(env Envelope) { got <- env })
	}()
	select {
	case env := <-got:
		assert.Equal(t, "o1", env.ID)
	case <-ctx.Done():
		t.Fatal("no frame received")
	}
}
