package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platformkit/eventstream/internal/runtime/config"
	"github.com/platformkit/eventstream/internal/runtime/dedup"
	"github.com/platformkit/eventstream/internal/runtime/logging"
	"github.com/platformkit/eventstream/stream"
)

// Service wires the stream log, dedup store, publisher, and metrics from one
// Config. It is the composition root business modules receive by injection;
// nothing in the runtime relies on process-wide singletons.
type Service struct {
	Conf   *config.Config
	Logger logging.ServiceLogger

	log       stream.Log
	dedup     dedup.Store
	publisher *Publisher
	metrics   *Metrics

	metricsServer *http.Server
}

// ServiceDependencies lets callers override the pieces NewService would
// otherwise build from config: a fake stream log in tests, a shared dedup
// store, or a custom metrics registerer.
type ServiceDependencies struct {
	Log        stream.Log
	Dedup      dedup.Store
	Registerer prometheus.Registerer
}

// NewService builds a Service from config. deps may be zero-valued.
func NewService(ctx context.Context, cfg *config.Config, logger logging.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	registerer := deps.Registerer
	if registerer == nil && cfg.MetricsEnabled {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := NewMetrics(registerer)

	log := deps.Log
	if log == nil {
		built, err := stream.Build(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build stream log: %w", err)
		}
		log = built
	}

	store := deps.Dedup
	if store == nil {
		built, err := buildDedupStore(cfg)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("build dedup store: %w", err)
		}
		store = built
	}

	s := &Service{
		Conf:    cfg,
		Logger:  logger,
		log:     log,
		dedup:   store,
		metrics: metrics,
	}

	publisher, err := NewPublisher(log, logger, metrics)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.publisher = publisher

	if cfg.MetricsEnabled {
		s.serveMetrics(cfg.MetricsPort)
	}

	logger.Info("event stream service initialised", logging.LogFields{
		"backend": cfg.StreamBackend,
		"config":  cfg.String(),
	})
	return s, nil
}

func buildDedupStore(cfg *config.Config) (dedup.Store, error) {
	if cfg.DedupPostgresURL != "" {
		return dedup.NewPostgresStore(cfg.DedupPostgresURL)
	}
	path := cfg.DedupSQLiteFile
	if path == "" {
		path = "eventstream_dedup.db"
	}
	return dedup.NewSQLiteStore(path)
}

// Publisher returns the shared publisher handle producer modules inject.
func (s *Service) Publisher() *Publisher {
	return s.publisher
}

// Log returns the underlying stream log.
func (s *Service) Log() stream.Log {
	return s.log
}

// Dedup returns the underlying dedup store.
func (s *Service) Dedup() dedup.Store {
	return s.dedup
}

// Metrics returns the service's collectors so sibling components (mission
// workers) can share them.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// NewConsumer creates a consumer bound to the service's log and dedup store.
func (s *Service) NewConsumer(registry *Registry, opts ConsumerOptions) (*Consumer, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = s.Conf.ReadBatchSize
	}
	if opts.Block == 0 {
		opts.Block = s.Conf.ReadBlock
	}
	if opts.ClaimInterval == 0 {
		opts.ClaimInterval = s.Conf.ClaimInterval
	}
	if opts.ClaimMinIdle == 0 {
		opts.ClaimMinIdle = s.Conf.ClaimMinIdle
	}
	if opts.MaxDeliveries == 0 {
		opts.MaxDeliveries = s.Conf.MaxDeliveries
	}
	return NewConsumer(s.log, s.dedup, registry, opts, s.Logger, s.metrics)
}

// RunMaintenance trims the stream to maxLen and prunes expired dedup records
// every interval until ctx is cancelled. Retention is independent of
// consumer progress.
func (s *Service) RunMaintenance(ctx context.Context, streamName string, maxLen int64, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	retention := s.Conf.DedupRetention
	if retention <= 0 {
		retention = dedup.DefaultRetention
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if maxLen > 0 {
			removed, err := s.log.Trim(ctx, streamName, maxLen)
			if err != nil {
				s.Logger.Error("stream trim failed", err, logging.LogFields{"stream": streamName})
			} else if removed > 0 {
				s.Logger.Info("trimmed stream", logging.LogFields{"stream": streamName, "removed": removed})
			}
		}

		pruned, err := s.dedup.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			s.Logger.Error("dedup prune failed", err, nil)
		} else if pruned > 0 {
			s.Logger.Info("pruned processed records", logging.LogFields{"removed": pruned})
		}
	}
}

func (s *Service) serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("metrics server stopped", err, nil)
		}
	}()
}

// Close releases the log, dedup store, and metrics endpoint.
func (s *Service) Close() error {
	var firstErr error
	if s.metricsServer != nil {
		if err := s.metricsServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.dedup != nil {
		if err := s.dedup.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.log != nil {
		if err := s.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
