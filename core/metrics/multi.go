package metrics

import (
	"errors"

	"github.com/kilianp07/movedispatch/core/model"
)

// MultiSink fans records out to several sinks. Optional recorders are
// forwarded only to the sinks that implement them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordEvent forwards to all sinks and joins their errors.
func (m *MultiSink) RecordEvent(ev EventRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordEvent(ev))
	}
	return errors.Join(errs...)
}

// RecordOffer forwards offer changes.
func (m *MultiSink) RecordOffer(ev OfferEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(OfferRecorder); ok {
			errs = append(errs, r.RecordOffer(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordTransition forwards phase transitions.
func (m *MultiSink) RecordTransition(tr model.Transition) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(TransitionRecorder); ok {
			errs = append(errs, r.RecordTransition(tr))
		}
	}
	return errors.Join(errs...)
}

// RecordLocation forwards location samples.
func (m *MultiSink) RecordLocation(smp model.LocationSample) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(LocationRecorder); ok {
			errs = append(errs, r.RecordLocation(smp))
		}
	}
	return errors.Join(errs...)
}

// RecordDeliveryGap forwards missed deliveries.
func (m *MultiSink) RecordDeliveryGap(ev DeliveryGapEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(DeliveryGapRecorder); ok {
			errs = append(errs, r.RecordDeliveryGap(ev))
		}
	}
	return errors.Join(errs...)
}
