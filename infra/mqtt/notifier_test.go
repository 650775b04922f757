package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/core/tracking"
	"github.com/kilianp07/movedispatch/infra/logger"
)

func TestNotifierPublishesPerRecipient(t *testing.T) {
	fb := newFakeBroker(t)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", TopicPrefix: "md/"}, logger.NopLogger{})
	require.NoError(t, err)
	n := NewNotifier(cli, nil, logger.NopLogger{})

	m := model.Move{ID: "m1", ClientID: "client-a", AssignedMover: "mover-b", Status: model.PhaseAssigned}
	n.Deliver(events.MoveAssigned(m, time.Now()))

	require.Len(t, fb.sent, 2)
	assert.Equal(t, "md/users/client-a/events", fb.sent[0].topic)
	assert.Equal(t, "md/users/mover-b/events", fb.sent[1].topic)
}

func TestNotifierCountsGapOnFailure(t *testing.T) {
	fb := newFakeBroker(t)
	fb.failures = []error{fmt.Errorf("down"), fmt.Errorf("down")}
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1}, logger.NopLogger{})
	require.NoError(t, err)

	var gaps []string
	n := NewNotifier(cli, func(ch, user string, ev events.Event) {
		gaps = append(gaps, ch+":"+user+":"+ev.ID)
	}, logger.NopLogger{})
	n.Deliver(events.Event{ID: "o1", Kind: events.KindOfferCreated, Recipients: []string{"mover-b"}})
	assert.Equal(t, []string{"mqtt:mover-b:o1"}, gaps)
}

func TestNotifierRunStopsOnClose(t *testing.T) {
	newFakeBroker(t)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	n := NewNotifier(cli, nil, logger.NopLogger{})
	ch := make(chan events.Event)
	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), ch)
		close(done)
	}()
	close(ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

type fakeEmitter struct {
	mu      sync.Mutex
	samples []model.LocationSample
	err     error
}

func (f *fakeEmitter) Emit(_ context.Context, s model.LocationSample) (tracking.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tracking.Ack{}, f.err
	}
	f.samples = append(f.samples, s)
	return tracking.Ack{Stored: true}, nil
}

func TestIngestFeedsEmitter(t *testing.T) {
	fb := newFakeBroker(t)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	em := &fakeEmitter{}
	in := NewIngest(cli, em, logger.NopLogger{})
	require.NoError(t, in.Start())
	require.Len(t, fb.subs, 1)
	assert.Equal(t, "movedispatch/movers/+/location", fb.subs[0].topic)

	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	payload, _ := json.Marshal(map[string]any{"lat": 48.85, "lng": 2.35, "speed": 12.5, "recorded_at": at})
	in.onMessage(nil, fakeMessage{topic: "movedispatch/movers/mover-b/location", payload: payload})

	require.Len(t, em.samples, 1)
	s := em.samples[0]
	assert.Equal(t, "mover-b", s.MoverID)
	assert.Equal(t, 48.85, s.Lat)
	require.NotNil(t, s.Speed)
	assert.Equal(t, 12.5, *s.Speed)
	assert.Nil(t, s.Heading)
	assert.True(t, s.RecordedAt.Equal(at))
}

func TestIngestDropsMalformed(t *testing.T) {
	newFakeBroker(t)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	em := &fakeEmitter{}
	in := NewIngest(cli, em, logger.NopLogger{})

	in.onMessage(nil, fakeMessage{topic: "movedispatch/movers/mover-b/location", payload: []byte("{")})
	in.onMessage(nil, fakeMessage{topic: "movedispatch/other/location", payload: []byte(`{"lat":1,"lng":1}`)})
	assert.Empty(t, em.samples)
}

func TestMoverFromTopic(t *testing.T) {
	cases := map[string]string{
		"md/movers/abc/location":  "abc",
		"a/b/movers/x-1/location": "x-1",
		"md/movers/abc/heartbeat": "",
		"location":                "",
		"md/users/abc/location":   "",
	}
	for topic, want := range cases {
		if got := moverFromTopic(topic); got != want {
			t.Errorf("moverFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}
