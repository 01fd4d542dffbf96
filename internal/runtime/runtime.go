package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/aira-core/internal/bus"
	"github.com/loqalabs/aira-core/internal/config"
	"github.com/loqalabs/aira-core/internal/eventstore"
	"github.com/loqalabs/aira-core/internal/insights"
	"github.com/loqalabs/aira-core/internal/natsserver"
	"github.com/loqalabs/aira-core/internal/session"
)

const shutdownTimeout = 10 * time.Second

type healthCheck struct {
	name string
	ok   func() bool
}

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	insights *insights.Service
	session  *session.Service

	checks []healthCheck
	ready  atomic.Bool
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runtime")),
	}
}

// Start brings every configured subsystem up, serves until ctx is done and
// then shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.shutdown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.insights != nil {
		r.insights.Routes(mux)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("metrics", r.cfg.Telemetry.PrometheusBind))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	var err error
	if r.cfg.Bus.Enabled {
		if r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger); err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		busCfg := r.cfg.Bus
		if url := r.embedded.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		if r.bus, err = bus.Connect(ctx, busCfg, r.logger); err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		r.checks = append(r.checks, healthCheck{"bus", r.bus.Healthy})
	}

	if r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger); err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	if r.cfg.Analytics.Enabled {
		r.insights = insights.NewService(ctx, r.cfg.Analytics, r.bus, r.store, r.logger)
		if err := r.insights.Start(); err != nil {
			return fmt.Errorf("start insights: %w", err)
		}
		r.checks = append(r.checks, healthCheck{"insights", r.insights.Healthy})
	}

	if r.cfg.Capture.Enabled || r.cfg.Playback.Enabled || r.cfg.Vision.Enabled {
		comps, err := session.Build(ctx, r.cfg, r.logger)
		if err != nil {
			return fmt.Errorf("build media session: %w", err)
		}
		var pub session.Publisher
		if r.bus != nil {
			pub = r.bus
		}
		r.session = session.NewService(ctx, comps, r.cfg.Transport.Credential, pub, r.store, r.logger)
		if err := r.session.Start(); err != nil {
			return fmt.Errorf("start media session: %w", err)
		}
		r.checks = append(r.checks, healthCheck{"transport", r.session.Healthy})
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.session != nil {
		r.session.Close()
	}
	if r.insights != nil {
		r.insights.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports every component check. The transport check is
// informational: a reconnecting socket does not make the runtime unready.
func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := map[string]bool{"runtime": r.ready.Load()}
	ready := status["runtime"]
	for _, c := range r.checks {
		ok := c.ok()
		status[c.name] = ok
		if !ok && c.name != "transport" {
			ready = false
		}
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
