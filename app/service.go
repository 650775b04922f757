// Package app wires the stores, dispatch services, transports and HTTP API
// into one running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/movedispatch/api"
	"github.com/kilianp07/movedispatch/auth"
	"github.com/kilianp07/movedispatch/config"
	"github.com/kilianp07/movedispatch/core/classify"
	"github.com/kilianp07/movedispatch/core/dispatch"
	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/lifecycle"
	coremetrics "github.com/kilianp07/movedispatch/core/metrics"
	coremon "github.com/kilianp07/movedispatch/core/monitoring"
	"github.com/kilianp07/movedispatch/core/tracking"
	"github.com/kilianp07/movedispatch/infra/logger"
	"github.com/kilianp07/movedispatch/infra/metrics"
	"github.com/kilianp07/movedispatch/infra/monitoring"
	"github.com/kilianp07/movedispatch/infra/mqtt"
	"github.com/kilianp07/movedispatch/infra/ws"
	"github.com/kilianp07/movedispatch/internal/eventbus"

	// ledger backends register themselves in the store factory.
	_ "github.com/kilianp07/movedispatch/infra/mongo"
	_ "github.com/kilianp07/movedispatch/infra/sqlite"
)

// busChannel labels events dropped by the in-process bus.
const busChannel = "bus"

// Service owns every long-running component.
type Service struct {
	cfg     *config.Config
	store   ledger.Store
	bus     *eventbus.Bus[events.Event]
	sink    coremetrics.MetricsSink
	sweeper *dispatch.Sweeper
	hub     *ws.Hub
	mqtt    *mqtt.Client
	notify  *mqtt.Notifier
	ingest  *mqtt.Ingest
	server  *http.Server
	log     logger.Logger
}

// New builds a Service from the configuration. Nothing is started until Run.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	coremon.Init(mon)

	rules, err := classify.Load(cfg.Classification.Catalog)
	if err != nil {
		return nil, fmt.Errorf("classification catalog: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := ledger.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}

	onGap := metrics.GapRecorder(sink)
	bus := eventbus.New[events.Event](eventbus.WithDropHook(func(sub string, ev events.Event) {
		onGap(busChannel, sub, ev)
	}))

	var history coremetrics.LocationRecorder
	if r, ok := sink.(coremetrics.LocationRecorder); ok {
		history = r
	}

	svc := &Service{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		sink:    sink,
		sweeper: dispatch.NewSweeper(store, bus, cfg.Dispatch, logger.New("sweeper")),
		hub:     ws.NewHub(onGap, logger.New("ws")),
		log:     logg,
	}
	trk := tracking.NewChannel(store, bus, history, cfg.Tracking, logger.New("tracking"))

	if cfg.MQTT.Enabled {
		cli, err := mqtt.NewClient(cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.mqtt = cli
		svc.notify = mqtt.NewNotifier(cli, onGap, logger.New("mqtt-notifier"))
		svc.ingest = mqtt.NewIngest(cli, trk, logger.New("mqtt-ingest"))
	}

	router := api.NewRouter(api.Services{
		Store:       store,
		Rules:       rules,
		Broadcaster: dispatch.NewBroadcaster(store, bus, cfg.Dispatch, logger.New("broadcaster")),
		Resolver:    dispatch.NewResolver(store, bus, logger.New("resolver")),
		Machine:     lifecycle.NewMachine(store, bus, logger.New("lifecycle")),
		Tracking:    trk,
		Hub:         svc.hub,
		Verifier:    auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Log:         logger.New("api"),
	}, cfg.Server.CORSOrigins)
	svc.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	return svc, nil
}

// Handler returns the HTTP handler of the API.
func (s *Service) Handler() http.Handler { return s.server.Handler }

// Run starts the background workers and the HTTP server, and blocks until
// ctx is cancelled or the server fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// start launches the workers. Every bus subscription exists when it
// returns, so no event published afterwards is missed.
func (s *Service) start(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.bus, s.sink)
	push := s.bus.Subscribe("ws")
	go func() {
		defer coremon.Recover()
		s.hub.Run(ctx, push)
	}()
	go func() {
		defer coremon.Recover()
		s.sweeper.Run(ctx)
	}()

	if s.mqtt != nil {
		out := s.bus.Subscribe("mqtt")
		go func() {
			defer coremon.Recover()
			s.notify.Run(ctx, out)
		}()
		if err := s.ingest.Start(); err != nil {
			return fmt.Errorf("mqtt ingest: %w", err)
		}
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			defer coremon.Recover()
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.bus.Close()
	s.hub.Close()
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return s.store.Close()
}
