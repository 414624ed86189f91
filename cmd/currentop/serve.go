package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mrzor/currentop/internal/attributes"
	"github.com/mrzor/currentop/internal/config"
	"github.com/mrzor/currentop/internal/filter"
	"github.com/mrzor/currentop/internal/logging"
	"github.com/mrzor/currentop/internal/metrics"
	"github.com/mrzor/currentop/internal/opmeta"
	"github.com/mrzor/currentop/internal/otel"
	"github.com/mrzor/currentop/internal/output"
	"github.com/mrzor/currentop/internal/server"
	"github.com/mrzor/currentop/internal/snapshot"
	"github.com/mrzor/currentop/internal/watch"
	"github.com/mrzor/currentop/internal/workerstatus"
	"github.com/mrzor/currentop/internal/workload"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated worker pool and serve its in-progress report",
	Long: `Starts a pool of simulated workers that run synthetic commands, then
serves the report over HTTP:

  GET    /currentop?filter=EXPR   snapshot of every active operation
  GET    /ops/{opid}              one operation by handle
  DELETE /ops/{opid}              interrupt an operation
  GET    /metrics                 Prometheus metrics
  GET    /healthz                 liveness

Settings come from CURRENTOP_* environment variables; flags override them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.Bool("track", false, "Publish per-operation metadata (CURRENTOP_TRACK_OPERATIONS)")
	f.Int("max-workers", 0, "Worker capacity (CURRENTOP_MAX_WORKERS)")
	f.Int("read-retries", 0, "Torn copies discarded per slot before giving up (CURRENTOP_READ_RETRIES)")
	f.Duration("interval", 0, "Watch stream snapshot interval (CURRENTOP_SNAPSHOT_INTERVAL)")
	f.String("filter", "", "Expression selecting reported operations (CURRENTOP_FILTER)")
	f.StringArrayP("attribute", "a", nil, "Custom span attribute NAME=EXPR, repeatable")
	f.String("trace-id", "", "Expression giving each span its trace ID (CURRENTOP_TRACE_ID)")
	f.Bool("export-spans", false, "Export operations as OTLP spans (CURRENTOP_EXPORT_SPANS)")
	f.Bool("watch", false, "Print each snapshot as a JSON line (CURRENTOP_WATCH)")
	f.String("log-level", "", "Log level: debug, info, warn or error (CURRENTOP_LOG_LEVEL)")
}

// applyFlags copies explicitly set flags over the environment settings.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("track", func() (e error) { cfg.TrackOperations, e = flags.GetBool("track"); return })
	set("max-workers", func() (e error) { cfg.MaxWorkers, e = flags.GetInt("max-workers"); return })
	set("read-retries", func() (e error) { cfg.ReadRetries, e = flags.GetInt("read-retries"); return })
	set("interval", func() (e error) { cfg.SnapshotInterval, e = flags.GetDuration("interval"); return })
	set("filter", func() (e error) { cfg.Filter, e = flags.GetString("filter"); return })
	set("attribute", func() (e error) { cfg.AttributeFlags, e = flags.GetStringArray("attribute"); return })
	set("trace-id", func() (e error) { cfg.TraceID, e = flags.GetString("trace-id"); return })
	set("export-spans", func() (e error) { cfg.ExportSpans, e = flags.GetBool("export-spans"); return })
	set("watch", func() (e error) { cfg.Watch, e = flags.GetBool("watch"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })
	set("addr", func() (e error) { cfg.ListenAddr, e = flags.GetString("addr"); return })
	return err
}

func serve(ctx context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level)
	logger.Info("starting currentop", "version", version, "commit", commit, "built", date)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	table := workerstatus.NewTable(cfg.MaxWorkers, nil)
	var store *opmeta.Store
	if cfg.TrackOperations {
		if store, err = opmeta.Allocate(cfg.MaxWorkers); err != nil {
			return err
		}
	}
	registrar := opmeta.NewRegistrar(cfg.TrackOperations, store, table, collector, logger)

	var tp *sdktrace.TracerProvider
	if cfg.ExportSpans {
		if tp, err = otel.InitProvider(&cfg.OTEL, logger); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
				logger.Error("error shutting down tracer provider", "error", err)
			}
		}()
	}

	readerOpts := snapshot.Options{MaxRetries: cfg.ReadRetries, Metrics: collector, Logger: logger}
	if tp != nil {
		readerOpts.Tracer = tp.Tracer("currentop")
	}
	reader, err := snapshot.NewReader(store, table, readerOpts)
	if err != nil {
		return err
	}

	pool, err := workload.New(table, registrar, workload.Options{
		Workers:      cfg.MaxWorkers,
		MaxOperation: cfg.Workload.MaxOperation,
		SessionRatio: cfg.Workload.SessionRatio,
		Seed:         cfg.Workload.Seed,
	}, logger)
	if err != nil {
		return err
	}

	handlers, spans, err := snapshotHandlers(cfg, tp, logger)
	if err != nil {
		return err
	}
	opFilter, err := filter.Compile(cfg.Filter)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewHandler(reader, server.Options{
			Terminator: pool,
			Gatherer:   registry,
			Metrics:    collector,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(ctx)
	})
	if len(handlers) > 0 {
		stream := watch.New(reader, cfg.SnapshotInterval, opFilter, logger, handlers...)
		g.Go(func() error {
			return stream.Run(ctx)
		})
	}
	g.Go(func() error {
		logger.Info("serving report", "addr", srv.Addr, "tracking", cfg.TrackOperations)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "error", err)
			return srv.Close()
		}
		return nil
	})

	err = g.Wait()
	if spans != nil {
		spans.Flush(time.Now())
	}
	logger.Info("currentop stopped")
	return err
}

// snapshotHandlers builds the watch stream consumers that cfg asks for. The
// span formatter is returned separately so its open spans can be flushed.
func snapshotHandlers(cfg *config.Config, tp *sdktrace.TracerProvider, logger *slog.Logger) ([]output.SnapshotHandler, *output.OTELFormatter, error) {
	var handlers []output.SnapshotHandler
	if cfg.Watch {
		handlers = append(handlers, output.NewJSONFormatter(os.Stdout))
	}
	if tp == nil {
		return handlers, nil, nil
	}

	attrs, err := cfg.CustomAttributes()
	if err != nil {
		return nil, nil, err
	}
	evaluator, err := attributes.NewEvaluator(attrs, logger)
	if err != nil {
		return nil, nil, err
	}
	traceIDs, err := attributes.NewTraceIDEvaluator(cfg.TraceID)
	if err != nil {
		return nil, nil, err
	}
	spans := output.NewOTELFormatter(tp.Tracer("currentop"), evaluator, traceIDs, logger)
	return append(handlers, spans), spans, nil
}
