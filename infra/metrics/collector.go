package metrics

import (
	"context"

	"github.com/kilianp07/movedispatch/core/events"
	coremetrics "github.com/kilianp07/movedispatch/core/metrics"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/core/monitoring"
	"github.com/kilianp07/movedispatch/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[events.Event], sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe("metrics")
	go func() {
		defer monitoring.Recover()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				collect(sink, ev)
			}
		}
	}()
}

func collect(sink coremetrics.MetricsSink, ev events.Event) {
	_ = sink.RecordEvent(coremetrics.EventRecord{
		Kind: string(ev.Kind), ID: ev.ID, Recipients: len(ev.Recipients), Time: ev.ServerTime,
	})
	switch ev.Kind {
	case events.KindOfferClosed:
		if r, ok := sink.(coremetrics.OfferRecorder); ok {
			if o, ok := ev.Payload.(model.Offer); ok {
				_ = r.RecordOffer(coremetrics.OfferEvent{Offer: o, Time: ev.ServerTime})
			}
		}
	case events.KindPhaseChanged:
		if r, ok := sink.(coremetrics.TransitionRecorder); ok {
			if p, ok := ev.Payload.(events.PhasePayload); ok {
				_ = r.RecordTransition(p.Transition)
			}
		}
	}
}
