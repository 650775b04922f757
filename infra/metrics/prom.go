package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/movedispatch/core/metrics"
	"github.com/kilianp07/movedispatch/core/model"
)

// PromSink records bus events, offer settlements and location lag in
// Prometheus metrics.
type PromSink struct {
	events      *prometheus.CounterVec
	recipients  prometheus.Histogram
	response    *prometheus.HistogramVec
	locations   prometheus.Counter
	locationLag prometheus.Histogram
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Events published on the bus by kind",
		}, []string{"kind"}),
		recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "realtime_event_recipients",
			Help:    "Number of recipients per published event",
			Buckets: []float64{1, 2, 5, 10, 25, 50},
		}),
		response: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offer_response_seconds",
			Help:    "Time between an offer being sent and its settlement",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"status"}),
		locations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "location_samples_stored_total",
			Help: "Location samples accepted as the newest for their mover",
		}),
		locationLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "location_sample_lag_seconds",
			Help:    "Delay between device timestamp and server receipt",
			Buckets: prometheus.DefBuckets,
		}),
	}
	var err error
	if s.events, err = register(reg, s.events); err != nil {
		return nil, err
	}
	if s.recipients, err = register(reg, s.recipients); err != nil {
		return nil, err
	}
	if s.response, err = register(reg, s.response); err != nil {
		return nil, err
	}
	if s.locations, err = register(reg, s.locations); err != nil {
		return nil, err
	}
	if s.locationLag, err = register(reg, s.locationLag); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// RecordEvent counts the event by kind.
func (s *PromSink) RecordEvent(ev coremetrics.EventRecord) error {
	s.events.WithLabelValues(ev.Kind).Inc()
	s.recipients.Observe(float64(ev.Recipients))
	return nil
}

// RecordOffer observes how long the offer stayed open.
func (s *PromSink) RecordOffer(ev coremetrics.OfferEvent) error {
	o := ev.Offer
	end := ev.Time
	if o.RespondedAt != nil {
		end = *o.RespondedAt
	}
	if o.Status == model.OfferExpired {
		end = o.ExpiresAt
	}
	s.response.WithLabelValues(string(o.Status)).Observe(end.Sub(o.SentAt).Seconds())
	return nil
}

// RecordLocation counts the sample and its transport lag.
func (s *PromSink) RecordLocation(smp model.LocationSample) error {
	s.locations.Inc()
	if lag := smp.ReceivedAt.Sub(smp.RecordedAt); lag >= 0 {
		s.locationLag.Observe(lag.Seconds())
	}
	return nil
}
