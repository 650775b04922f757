package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/core/tracking"
)

// Emitter accepts location samples.
type Emitter interface {
	Emit(ctx context.Context, s model.LocationSample) (tracking.Ack, error)
}

var ingestMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mqtt_location_messages_total",
	Help: "Location messages received over MQTT by result",
}, []string{"result"})

func init() {
	prometheus.MustRegister(ingestMessages)
}

// locationMessage is the payload published by movers.
type locationMessage struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ingest feeds samples published on <prefix>/movers/<id>/location to an
// Emitter. The mover id comes from the topic, never from the payload.
type Ingest struct {
	cli     *Client
	emitter Emitter
	timeout time.Duration
	log     logger.Logger
}

// NewIngest creates an Ingest.
func NewIngest(cli *Client, emitter Emitter, log logger.Logger) *Ingest {
	return &Ingest{cli: cli, emitter: emitter, timeout: 5 * time.Second, log: log}
}

// Start subscribes to the location topics.
func (i *Ingest) Start() error {
	return i.cli.Subscribe(i.cli.Topic("movers", "+", "location"), "location", i.onMessage)
}

func (i *Ingest) onMessage(_ paho.Client, msg paho.Message) {
	result := "stored"
	defer func() { ingestMessages.WithLabelValues(result).Inc() }()

	s, err := decodeLocation(msg.Topic(), msg.Payload())
	if err != nil {
		result = "invalid"
		i.log.Warnf("location message on %s: %v", msg.Topic(), err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	ack, err := i.emitter.Emit(ctx, s)
	switch {
	case err != nil:
		result = "rejected"
		i.log.Warnf("emit location for %s: %v", s.MoverID, err)
	case !ack.Stored:
		result = "stale"
	}
}

func decodeLocation(topic string, payload []byte) (model.LocationSample, error) {
	mover := moverFromTopic(topic)
	if mover == "" {
		return model.LocationSample{}, fmt.Errorf("no mover id in topic")
	}
	var m locationMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return model.LocationSample{}, fmt.Errorf("decode: %w", err)
	}
	return model.LocationSample{
		MoverID: mover, Lat: m.Lat, Lng: m.Lng, Heading: m.Heading, Speed: m.Speed, RecordedAt: m.RecordedAt,
	}, nil
}

// moverFromTopic extracts <id> from .../movers/<id>/location.
func moverFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "location" || parts[len(parts)-3] != "movers" {
		return ""
	}
	return parts[len(parts)-2]
}
