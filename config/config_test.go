package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

//nolint:gocyclo
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `server:
  addr: ":9000"
  cors_origins: ["https://app.example.com"]
auth:
  jwt_secret: "0123456789abcdef0123"
store:
  type: sqlite
  conf:
    path: "/var/lib/md/ledger.db"
dispatch:
  offer_window: 45s
  sweep_interval: 2s
tracking:
  active_interval: 3s
  idle_interval: 30s
classification:
  catalog: "catalog.toml"
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "cli"
  topic_prefix: "md"
  qos:
    events: 1
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "nop"
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server.addr", cfg.Server.Addr, ":9000"},
		{"cors", len(cfg.Server.CORSOrigins) == 1 && cfg.Server.CORSOrigins[0] == "https://app.example.com", true},
		{"store.type", cfg.Store.Type, "sqlite"},
		{"store.conf.path", cfg.Store.Conf["path"], "/var/lib/md/ledger.db"},
		{"offer_window", cfg.Dispatch.OfferWindow, 45 * time.Second},
		{"sweep_interval", cfg.Dispatch.SweepInterval, 2 * time.Second},
		{"max_candidates default", cfg.Dispatch.MaxCandidates, 50},
		{"active_interval", cfg.Tracking.ActiveInterval, 3 * time.Second},
		{"catalog", cfg.Classification.Catalog, "catalog.toml"},
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"topic_prefix", cfg.MQTT.TopicPrefix, "md"},
		{"qos.events", cfg.MQTT.QoS["events"], byte(1)},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"prometheus_addr", cfg.Metrics.PrometheusAddr, ":9100"},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"shutdown default", cfg.Server.ShutdownTimeout, 10 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"auth":{"jwt_secret":"0123456789abcdef"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MD_DISPATCH__OFFER_WINDOW", "90s")
	t.Setenv("MD_SERVER__ADDR", ":7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Dispatch.OfferWindow != 90*time.Second {
		t.Errorf("offer_window = %v", cfg.Dispatch.OfferWindow)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("store default = %s", cfg.Store.Type)
	}
	if cfg.Tracking.IdleInterval != time.Minute {
		t.Errorf("idle default = %v", cfg.Tracking.IdleInterval)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"short secret":     `{"auth":{"jwt_secret":"short"}}`,
		"inverted cadence": `{"auth":{"jwt_secret":"0123456789abcdef"},"tracking":{"active_interval":"2m","idle_interval":"1m"}}`,
		"mqtt no broker":   `{"auth":{"jwt_secret":"0123456789abcdef"},"mqtt":{"enabled":true}}`,
		"bad log level":    `{"auth":{"jwt_secret":"0123456789abcdef"},"logging":{"level":"loud"}}`,
		"negative window":  `{"auth":{"jwt_secret":"0123456789abcdef"},"dispatch":{"offer_window":"-1s"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	if _, err := Load("config.ini"); err == nil {
		t.Fatal("expected error")
	}
}
