package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/aira-core/internal/analytics"
	"github.com/loqalabs/aira-core/internal/bus"
	"github.com/loqalabs/aira-core/internal/config"
	"github.com/loqalabs/aira-core/internal/eventstore"
	"github.com/loqalabs/aira-core/internal/graph"
	"github.com/loqalabs/aira-core/internal/protocol"
)

const instrumentation = "github.com/loqalabs/aira-core/insights"

// Run sources recorded with every alert run.
const (
	SourceHTTP = "http"
	SourceBus  = "bus"
	SourceFile = "file"
)

// Store persists alert runs.
type Store interface {
	AppendAlertRun(ctx context.Context, run eventstore.AlertRun) error
}

// AnalyzeRequest is the graph.analyze request payload. Zero windows fall
// back to the configured defaults.
type AnalyzeRequest struct {
	Document     graph.Document `json:"document"`
	RecentDays   int            `json:"recent_days,omitempty"`
	BaselineDays int            `json:"baseline_days,omitempty"`
}

// AlertsEvent is published on graph.alerts and returned to callers.
type AlertsEvent struct {
	RunID     string            `json:"run_id"`
	Source    string            `json:"source"`
	Alerts    []analytics.Alert `json:"alerts"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

// Service fronts the graph builder and the change analyzer over the bus and
// HTTP, and records every analysis it runs.
type Service struct {
	cfg    config.AnalyticsConfig
	bus    *bus.Client
	store  Store
	logger *slog.Logger
	clock  func() time.Time

	tracer trace.Tracer
	alerts metric.Int64Counter

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
	ready  bool
}

func NewService(parent context.Context, cfg config.AnalyticsConfig, busClient *bus.Client, store Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		logger: logger.With(slog.String("component", "insights")),
		clock:  time.Now,
		tracer: otel.Tracer(instrumentation),
		ctx:    ctx,
		cancel: cancel,
	}
	var err error
	s.alerts, err = otel.Meter(instrumentation).Int64Counter("aira.analytics.alerts", metric.WithDescription("Change alerts produced by analysis runs"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

// Start subscribes to analyze requests when a bus is available.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.bus != nil {
		sub, err := s.bus.Conn().Subscribe(protocol.SubjectGraphAnalyze, s.handleRequest)
		if err != nil {
			return fmt.Errorf("subscribe analyze requests: %w", err)
		}
		s.sub = sub
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) options(recentDays, baselineDays int) analytics.Options {
	opts := analytics.Options{
		RecentDays:   s.cfg.RecentDays,
		BaselineDays: s.cfg.BaselineDays,
		MaxAlerts:    s.cfg.MaxAlerts,
	}
	if recentDays > 0 {
		opts.RecentDays = recentDays
	}
	if baselineDays > 0 {
		opts.BaselineDays = baselineDays
	}
	return opts
}

// Analyze computes alerts for doc, then records and broadcasts the run.
// Storage and publish failures are logged; the alerts are still returned.
func (s *Service) Analyze(ctx context.Context, doc graph.Document, opts analytics.Options, source string) AlertsEvent {
	ctx, span := s.tracer.Start(ctx, "analytics.compute_change_alerts",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.Int("graph.nodes", len(doc.Nodes)),
			attribute.Int("analytics.recent_days", opts.RecentDays),
			attribute.Int("analytics.baseline_days", opts.BaselineDays),
		))
	alerts := analytics.ComputeChangeAlerts(doc, opts)
	span.SetAttributes(attribute.Int("analytics.alerts", len(alerts)))
	span.End()

	if alerts == nil {
		alerts = []analytics.Alert{}
	}
	if s.alerts != nil {
		for _, a := range alerts {
			s.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(a.Type))))
		}
	}

	evt := AlertsEvent{
		RunID:     uuid.NewString(),
		Source:    source,
		Alerts:    alerts,
		Timestamp: s.clock().UTC(),
	}
	if s.store != nil {
		payload, err := json.Marshal(alerts)
		if err == nil {
			err = s.store.AppendAlertRun(ctx, eventstore.AlertRun{
				ID:           evt.RunID,
				Source:       source,
				RecentDays:   opts.RecentDays,
				BaselineDays: opts.BaselineDays,
				AlertCount:   len(alerts),
				Payload:      payload,
				CreatedAt:    evt.Timestamp,
			})
		}
		if err != nil {
			s.logger.Warn("failed to store alert run", slogError(err))
		}
	}
	if err := s.bus.PublishJSON(protocol.SubjectGraphAlerts, evt); err != nil {
		s.logger.Warn("failed to publish alerts", slogError(err))
	}
	s.logger.Info("analysis complete",
		slog.String("run_id", evt.RunID),
		slog.String("source", source),
		slog.Int("alerts", len(alerts)))
	return evt
}

// AnalyzeFile runs an analysis over the configured graph file.
func (s *Service) AnalyzeFile(ctx context.Context, recentDays, baselineDays int) (AlertsEvent, error) {
	if s.cfg.GraphPath == "" {
		return AlertsEvent{}, errNoGraphPath
	}
	f, err := os.Open(s.cfg.GraphPath)
	if err != nil {
		return AlertsEvent{}, fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()
	doc, err := graph.ParseDocument(f)
	if err != nil {
		return AlertsEvent{}, err
	}
	return s.Analyze(ctx, doc, s.options(recentDays, baselineDays), SourceFile), nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var req AnalyzeRequest
		var reply AlertsEvent
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("failed to decode analyze request", slogError(err))
			reply = AlertsEvent{Source: SourceBus, Alerts: []analytics.Alert{}, Timestamp: s.clock().UTC(), Error: err.Error()}
		} else {
			ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
			reply = s.Analyze(ctx, req.Document, s.options(req.RecentDays, req.BaselineDays), SourceBus)
			cancel()
		}
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			s.logger.Warn("failed to encode analyze reply", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to reply to analyze request", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
