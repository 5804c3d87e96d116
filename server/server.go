package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pool-sentry/sentry/broadcast"
	"github.com/pool-sentry/sentry/config"
	"github.com/pool-sentry/sentry/logutils"
	"github.com/pool-sentry/sentry/mempool"
	"github.com/pool-sentry/sentry/metrics"
	"github.com/pool-sentry/sentry/types"
	"github.com/pool-sentry/sentry/upstream"
	"github.com/pool-sentry/sentry/utils"
)

// ingestQueueDepth bounds the shared channel between the upstream read loops
// and the mempool owner loop.
const ingestQueueDepth = 1024

type Server struct {
	cfg     *config.Config
	failure chan error
	logger  *zap.Logger

	hub       *broadcast.Hub
	ipc       *broadcast.IPC
	index     *mempool.Index
	upstreams []*upstream.Client

	ingest chan types.Notification

	// ctx spans Run; header-triggered verification probes inherit it so
	// that in-flight proof fetches die with the server.
	ctx context.Context

	metrics *http.Server
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  zap.L(),
		failure: make(chan error, 16),
		ingest:  make(chan types.Notification, ingestQueueDepth),
	}

	s.hub = broadcast.NewHub(&broadcast.Config{
		QueueDepth: cfg.Broadcast.QueueDepth,
		Policy:     broadcast.Policy(cfg.Broadcast.Policy),
	})

	if cfg.Broadcast.SocketPath != "" {
		s.ipc = broadcast.NewIPC(cfg.Broadcast.SocketPath, cfg.Broadcast.IPCWriteTimeout, s.hub)
	}

	s.index = mempool.New(&mempool.Config{
		TTL:               cfg.Mempool.TTL,
		ConfirmationGrace: cfg.Mempool.ConfirmationGrace,
		MaxEntries:        cfg.Mempool.MaxEntries,
		SweepInterval:     cfg.Mempool.SweepInterval,
	}, s.hub)
	s.index.OnHeader(s.onHeader)

	s.upstreams = make([]*upstream.Client, 0, len(cfg.Upstream.Endpoints))
	for _, endpoint := range cfg.Upstream.Endpoints {
		s.upstreams = append(s.upstreams, upstream.NewClient(&upstream.Config{
			Endpoint:     endpoint,
			Kinds:        cfg.Upstream.SubscriptionKinds(),
			DialTimeout:  cfg.Upstream.DialTimeout,
			DialAttempts: cfg.Upstream.DialAttempts,
			BackoffMin:   cfg.Upstream.BackoffMin,
			BackoffMax:   cfg.Upstream.BackoffMax,
			CallTimeout:  cfg.Upstream.CallTimeout,
		}, s.ingest, s.hub))
	}

	mux := http.NewServeMux()
	mux.Handle("/", promhttp.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	s.metrics = &http.Server{
		Addr:              cfg.Metrics.ListenAddress,
		Handler:           mux,
		MaxHeaderBytes:    1024,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return s, nil
}

func (s *Server) Run() error {
	l := s.logger

	ctx, cancel := context.WithCancel(
		logutils.ContextWithLogger(context.Background(), l),
	)
	defer cancel()
	s.ctx = ctx

	if err := metrics.Setup(ctx, s.observe); err != nil {
		return err
	}

	go func() { // run the metrics server
		l.Info("Metrics server is going up...",
			zap.String("server_listen_address", s.cfg.Metrics.ListenAddress),
		)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.failure <- err
		}
		l.Info("Metrics server is down")
	}()

	s.index.Run(ctx, s.ingest)

	if s.ipc != nil {
		s.ipc.Run(ctx, s.failure)
	}

	for _, u := range s.upstreams {
		if err := u.Connect(ctx); err != nil {
			// not fatal: the client keeps redialling with backoff
			l.Warn("Upstream unreachable at startup",
				zap.Error(err),
			)
		}
		u.Run(ctx, s.failure)
	}

	errs := []error{}
	{ // wait until termination or internal failure
		terminator := make(chan os.Signal, 1)
		signal.Notify(terminator, os.Interrupt, syscall.SIGTERM)

		select {
		case stop := <-terminator:
			l.Info("Stop signal received; shutting down...",
				zap.String("signal", stop.String()),
			)
		case err := <-s.failure:
			l.Error("Internal failure; shutting down...",
				zap.Error(err),
			)
			errs = append(errs, err)
		exhaustErrors:
			for { // exhaust the errors
				select {
				case err := <-s.failure:
					l.Error("Extra internal failure",
						zap.Error(err),
					)
					errs = append(errs, err)
				default:
					break exhaustErrors
				}
			}
		}
	}

	// cancelling first stops the mempool owner loop and the upstream
	// reconnect cycles; component Stop calls then only tear down sockets
	cancel()

	{ // stop the upstream connections
		for _, u := range s.upstreams {
			u.Stop()
		}
	}

	if s.ipc != nil { // stop the ipc listener
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.ipc.Stop(ctx); err != nil {
			l.Error("Failed to shutdown the ipc listener",
				zap.Error(err),
			)
		}
	}

	s.hub.Close()

	{ // stop metrics server
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.metrics.Shutdown(ctx); err != nil {
			l.Error("Metrics server shutdown failed",
				zap.Error(err),
			)
		}
	}

	return utils.FlattenErrors(errs)
}

func (s *Server) observe(ctx context.Context, o otelapi.Observer) error {
	errs := make([]error, 0)

	if err := s.index.ObserveMetrics(ctx, o); err != nil {
		errs = append(errs, err)
	}

	if err := s.hub.ObserveMetrics(ctx, o); err != nil {
		errs = append(errs, err)
	}

	for _, u := range s.upstreams {
		if err := u.ObserveMetrics(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}

	return utils.FlattenErrors(errs)
}
