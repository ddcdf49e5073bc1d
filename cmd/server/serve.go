package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"consentsync/internal/audit"
	"consentsync/internal/consent/handler"
	"consentsync/internal/consent/models"
	"consentsync/internal/consent/remote"
	"consentsync/internal/platform/httpserver"
	"consentsync/internal/platform/metrics"
	"consentsync/internal/sync/cache"
	"consentsync/internal/sync/connectivity"
	syncmetrics "consentsync/internal/sync/metrics"
	"consentsync/internal/sync/orchestrator"
	"consentsync/internal/sync/realtime"
)

func newServeCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync layer and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := bootstrap(ctx, *debug)
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					d.log.Warn("close resources", "error", err)
				}
			}()
			return serve(ctx, d)
		},
	}
}

func serve(ctx context.Context, d *deps) error {
	log := d.log

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := syncmetrics.New(reg)
	httpMetrics := metrics.New(reg)

	monitor := connectivity.New(d.store, d.backend, d.cfg.Probe.Endpoints,
		connectivity.WithLogger(log.With("component", "connectivity")),
		connectivity.WithMetrics(syncMetrics),
	)
	defer monitor.Close()
	store := cache.New[[]models.Record](d.store,
		cache.WithLogger(log.With("component", "cache")),
		cache.WithMetrics(syncMetrics),
	)
	rt := realtime.NewManager(
		realtime.NewPQOpener(d.dsn, log.With("component", "listener")),
		monitor,
		realtime.WithLogger(log.With("component", "realtime")),
	)

	sink, closeSink := auditSink(ctx, d)
	defer closeSink()
	publisher := audit.NewPublisher(audit.WithLogger(log.With("component", "audit")))

	orch := orchestrator.New(d.backend, monitor, store,
		orchestrator.WithLogger(log.With("component", "orchestrator")),
		orchestrator.WithMetrics(syncMetrics),
		orchestrator.WithRealtime(rt, remote.NotifyChannel),
		orchestrator.WithAuditor(publisher),
		orchestrator.WithCacheTTL(d.cfg.Cache.TTL),
	)
	defer orch.Close()

	monitor.OnTransition(func(connected bool) {
		if connected {
			// the hook runs inside the probe; restore outside it
			go orch.NetworkRestored(ctx)
		}
	})

	router := chi.NewRouter()
	handler.New(orch, monitor, log.With("component", "http"), httpMetrics).Register(router)
	root := chi.NewRouter()
	root.Handle("/metrics", metrics.Handler(reg))
	root.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	root.Mount("/", router)

	orch.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := orch.Load(gctx); err != nil {
			log.Warn("initial load failed, retrying in background", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return audit.NewWorker(sink, publisher.Inbox(), log.With("component", "audit")).Run(gctx)
	})
	g.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(d.cfg.HTTP.Addr, root), log)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if n := publisher.Dropped(); n > 0 {
		log.Warn("audit events dropped", "count", n)
	}
	return err
}

// auditSink produces to Kafka when brokers are configured and otherwise
// writes audit events to the log.
func auditSink(ctx context.Context, d *deps) (audit.Sink, func()) {
	logSink := audit.NewLogSink(d.log.With("component", "audit"))
	if len(d.cfg.Kafka.Brokers) == 0 {
		return logSink, func() {}
	}
	sink, err := audit.NewKafkaSink(d.cfg.Kafka.Brokers, d.cfg.Kafka.Topic)
	if err != nil {
		d.log.Warn("kafka audit sink unavailable, logging audit events", "error", err)
		return logSink, func() {}
	}
	if err := sink.EnsureTopic(ctx, 1, 1); err != nil {
		d.log.Warn("could not ensure audit topic", "topic", d.cfg.Kafka.Topic, "error", err)
	}
	d.log.Info("audit sink", "backend", "kafka", "topic", d.cfg.Kafka.Topic)
	return sink, sink.Close
}

