package metrics

import (
	"time"

	"github.com/kilianp07/movedispatch/core/dispatch"
	"github.com/kilianp07/movedispatch/core/events"
	coremetrics "github.com/kilianp07/movedispatch/core/metrics"
)

// GapRecorder returns the delivery-gap callback used by the push
// transports and the bus. Every gap increments delivery_gaps_total and is
// forwarded to sink when it records gaps.
func GapRecorder(sink coremetrics.MetricsSink) events.GapFunc {
	rec, _ := sink.(coremetrics.DeliveryGapRecorder)
	return func(channel, recipient string, ev events.Event) {
		dispatch.ObserveDeliveryGap(channel)
		if rec != nil {
			_ = rec.RecordDeliveryGap(coremetrics.DeliveryGapEvent{
				Channel: channel, Recipient: recipient, Kind: string(ev.Kind), Time: time.Now(),
			})
		}
	}
}
