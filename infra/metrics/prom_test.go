package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/movedispatch/core/metrics"
	"github.com/kilianp07/movedispatch/core/model"
)

func TestPromSinkRecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, s.RecordEvent(coremetrics.EventRecord{Kind: "offer.created", ID: "o1", Recipients: 1}))
	require.NoError(t, s.RecordEvent(coremetrics.EventRecord{Kind: "offer.created", ID: "o2", Recipients: 1}))
	require.NoError(t, s.RecordEvent(coremetrics.EventRecord{Kind: "move.assigned", ID: "m1", Recipients: 2}))

	assert.Equal(t, 2.0, testutil.ToFloat64(s.events.WithLabelValues("offer.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.events.WithLabelValues("move.assigned")))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, a.RecordLocation(model.LocationSample{MoverID: "m"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.locations))
}

func TestPromSinkOfferResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	sent := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	o := model.Offer{ID: "o1", Status: model.OfferExpired, SentAt: sent, ExpiresAt: sent.Add(time.Minute)}
	require.NoError(t, s.RecordOffer(coremetrics.OfferEvent{Offer: o, Time: sent.Add(2 * time.Minute)}))
	assert.Equal(t, 1, testutil.CollectAndCount(s.response))
}
