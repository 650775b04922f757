package metrics

import (
	"time"

	"github.com/kilianp07/movedispatch/core/model"
)

// EventRecord summarises one real-time event seen on the bus.
type EventRecord struct {
	Kind       string
	ID         string
	Recipients int
	Time       time.Time
}

// MetricsSink records bus events for observability purposes.
type MetricsSink interface {
	RecordEvent(ev EventRecord) error
}

// OfferEvent captures an offer reaching a new status.
type OfferEvent struct {
	Offer model.Offer
	Time  time.Time
}

// OfferRecorder records offer lifecycle changes.
type OfferRecorder interface {
	RecordOffer(ev OfferEvent) error
}

// TransitionRecorder records applied phase transitions.
type TransitionRecorder interface {
	RecordTransition(tr model.Transition) error
}

// LocationRecorder keeps the history of mover positions.
type LocationRecorder interface {
	RecordLocation(s model.LocationSample) error
}

// DeliveryGapEvent is a push notification that could not be delivered.
type DeliveryGapEvent struct {
	Channel   string
	Recipient string
	Kind      string
	Time      time.Time
}

// DeliveryGapRecorder records missed push deliveries.
type DeliveryGapRecorder interface {
	RecordDeliveryGap(ev DeliveryGapEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordEvent(EventRecord) error             { return nil }
func (NopSink) RecordOffer(OfferEvent) error              { return nil }
func (NopSink) RecordTransition(model.Transition) error   { return nil }
func (NopSink) RecordLocation(model.LocationSample) error { return nil }
func (NopSink) RecordDeliveryGap(DeliveryGapEvent) error  { return nil }
