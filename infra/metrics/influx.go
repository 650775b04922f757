package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	corelogger "github.com/kilianp07/movedispatch/core/logger"
	coremetrics "github.com/kilianp07/movedispatch/core/metrics"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/infra/logger"
)

// InfluxSink writes the event stream, phase transitions and mover
// positions to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      corelogger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEvent writes one point per published event.
func (s *InfluxSink) RecordEvent(ev coremetrics.EventRecord) error {
	p := write.NewPointWithMeasurement("realtime_event").
		AddTag("kind", ev.Kind).
		AddTag("ref_id", ev.ID).
		AddField("recipients", ev.Recipients).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordOffer writes an offer settlement.
func (s *InfluxSink) RecordOffer(ev coremetrics.OfferEvent) error {
	o := ev.Offer
	p := write.NewPointWithMeasurement("offer_settled").
		AddTag("move_id", o.MoveID).
		AddTag("mover_id", o.MoverID).
		AddTag("status", string(o.Status)).
		AddTag("close_reason", string(o.CloseReason)).
		AddField("offer_id", o.ID).
		AddField("attempt", o.Attempt).
		SetTime(ev.Time)
	if o.RespondedAt != nil {
		p = p.AddField("response_s", round3(o.RespondedAt.Sub(o.SentAt).Seconds()))
	}
	return s.write(p)
}

// RecordTransition writes an applied phase transition.
func (s *InfluxSink) RecordTransition(tr model.Transition) error {
	p := write.NewPointWithMeasurement("move_transition").
		AddTag("move_id", tr.MoveID).
		AddTag("from", string(tr.From)).
		AddTag("to", string(tr.To)).
		AddField("actor", tr.Actor).
		AddField("seq", tr.Seq).
		SetTime(tr.At)
	return s.write(p)
}

// RecordLocation writes a mover position.
func (s *InfluxSink) RecordLocation(smp model.LocationSample) error {
	p := write.NewPointWithMeasurement("mover_location").
		AddTag("mover_id", smp.MoverID)
	if smp.MoveID != "" {
		p = p.AddTag("move_id", smp.MoveID)
	}
	p = p.AddField("lat", smp.Lat).
		AddField("lng", smp.Lng).
		AddField("lag_ms", smp.ReceivedAt.Sub(smp.RecordedAt).Milliseconds())
	if smp.Heading != nil {
		p = p.AddField("heading", round3(*smp.Heading))
	}
	if smp.Speed != nil {
		p = p.AddField("speed", round3(*smp.Speed))
	}
	return s.write(p.SetTime(smp.RecordedAt))
}

// RecordDeliveryGap writes a missed push.
func (s *InfluxSink) RecordDeliveryGap(ev coremetrics.DeliveryGapEvent) error {
	p := write.NewPointWithMeasurement("delivery_gap").
		AddTag("channel", ev.Channel).
		AddTag("kind", ev.Kind).
		AddField("recipient", ev.Recipient).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
