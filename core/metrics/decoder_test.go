package metrics_test

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"

	metrics "github.com/kilianp07/movedispatch/core/metrics"
	_ "github.com/kilianp07/movedispatch/infra/metrics"
)

// An unreachable InfluxDB must not keep the service from starting.
func TestSinksFromYAMLWithUnreachableInflux(t *testing.T) {
	data := `sinks:
  - type: prometheus
  - type: influx
    conf:
      url: http://127.0.0.1:1
      token: t
      org: movedispatch
      bucket: moves
`
	var cfg metrics.Config
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].Conf["bucket"] != "moves" {
		t.Fatalf("unexpected decode: %+v", cfg.Sinks)
	}
	s, err := metrics.NewMetricsSink(cfg.Sinks)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok {
		t.Fatalf("expected MultiSink, got %T", s)
	}
	if _, ok := m.Sinks[1].(metrics.NopSink); !ok {
		t.Fatalf("expected nop fallback for influx, got %T", m.Sinks[1])
	}
}

func TestSinksFromJSONRejectUnknown(t *testing.T) {
	data := `{"sinks":[{"type":"graphite","conf":{"addr":"localhost:2003"}}]}`
	var cfg metrics.Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if _, err := metrics.NewMetricsSink(cfg.Sinks); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
