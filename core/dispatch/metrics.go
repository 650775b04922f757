package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offersCreated prometheus.Counter
	offersClosed  *prometheus.CounterVec
	claimOutcomes *prometheus.CounterVec
	claimLatency  prometheus.Histogram
	deliveryGaps  *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Histogram, *prometheus.CounterVec) {
	created := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_created_total",
			Help: "Number of offers written by broadcasts",
		},
	)
	closed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_closed_total",
			Help: "Number of offers closed without acceptance",
		},
		[]string{"reason"},
	)
	claims := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_claims_total",
			Help: "Accept attempts by outcome",
		},
		[]string{"outcome"},
	)
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_claim_latency_seconds",
			Help:    "Time between offer creation and successful acceptance",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
	)
	gaps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_gaps_total",
			Help: "Real-time notifications that could not be pushed",
		},
		[]string{"channel"},
	)
	return created, closed, claims, lat, gaps
}

func init() {
	offersCreated, offersClosed, claimOutcomes, claimLatency, deliveryGaps = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offersCreated, offersClosed, claimOutcomes, claimLatency, deliveryGaps)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	offersCreated, offersClosed, claimOutcomes, claimLatency, deliveryGaps = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

// ObserveDeliveryGap counts a push notification lost on channel. Gaps are
// never retried; the poll path recovers them.
func ObserveDeliveryGap(channel string) {
	deliveryGaps.WithLabelValues(channel).Inc()
}
