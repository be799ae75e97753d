package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/crank"
	audithook "github.com/xraph/crank/audit_hook"
	"github.com/xraph/crank/backoff"
	"github.com/xraph/crank/engine"
	"github.com/xraph/crank/ledger/rpc"
	"github.com/xraph/crank/stream"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a crank worker",
	Long: `Run connects to a ledger RPC endpoint, indexes every queue account
and submits crank batches for queues whose triggers are ready until it
receives SIGINT or SIGTERM.`,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"ledger.url":              "ledger-url",
			"ledger.token":            "ledger-token",
			"worker.signer":           "signer",
			"worker.id":               "worker-id",
			"worker.concurrency":      "concurrency",
			"worker.round_interval":   "round-interval",
			"worker.size_limit":       "size-limit",
			"worker.queue_rate":       "queue-rate",
			"worker.attempt_timeout":  "attempt-timeout",
			"store.kind":              "store",
			"store.dsn":               "store-dsn",
			"crankset.kind":           "crankset",
			"crankset.redis_url":      "crankset-redis",
			"crankset.name":           "crankset-name",
			"telemetry.otlp_endpoint": "otlp-endpoint",
			"telemetry.metrics_addr":  "metrics-addr",
			"telemetry.environment":   "environment",
			"audit.enabled":           "audit",
			"audit.severity":          "audit-severity",
			"events.addr":             "events-addr",
		})
	},
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := crank.DefaultConfig()
	f := runCmd.Flags()
	f.String("ledger-url", "ws://127.0.0.1:8899/rpc", "ledger RPC websocket URL")
	f.String("ledger-token", "", "ledger RPC token")
	f.String("signer", "", "address that pays for crank batches (hex, or a devnet name)")
	f.Uint64("worker-id", 0, "worker account that receives step fees")
	f.Int("concurrency", defaults.Concurrency, "queues attempted concurrently per round")
	f.Duration("round-interval", defaults.RoundInterval, "interval between rounds when nothing wakes the worker")
	f.Int("size-limit", defaults.SizeLimit, "maximum encoded batch size in bytes")
	f.Float64("queue-rate", 0, "maximum attempts per second per queue (0 disables)")
	f.Duration("attempt-timeout", defaults.AttemptTimeout, "deadline for one build and submit")
	f.String("store", "memory", "attempt store: memory, postgres, bun, redis, pebble or mongo")
	f.String("store-dsn", "", "postgres connection string, redis or mongodb URL, or pebble directory")
	f.String("crankset", "memory", "crankable set: memory or redis")
	f.String("crankset-redis", "redis://127.0.0.1:6379/0", "redis URL for a shared crankable set")
	f.String("crankset-name", "default", "name of the shared crankable set")
	f.String("otlp-endpoint", "", "OTLP/HTTP trace endpoint, e.g. localhost:4318")
	f.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9464")
	f.String("environment", "development", "deployment environment reported in telemetry")
	f.Bool("audit", false, "log an audit record for every lifecycle event")
	f.String("audit-severity", "info", "lowest audit severity to log: info, warning or critical")
	f.String("events-addr", "", "address to stream lifecycle events on as NDJSON, e.g. :9465")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := parseAddress(viper.GetString("worker.signer"))
	if err != nil {
		return fmt.Errorf("%w: signer: %w", crank.ErrNoSigner, err)
	}

	tel, err := setupTelemetry(ctx,
		viper.GetString("telemetry.otlp_endpoint"),
		viper.GetString("telemetry.metrics_addr"),
		viper.GetString("telemetry.environment"),
		logger,
	)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(shutdownCtx)
	}()

	store, err := openStore(ctx, viper.GetString("store.kind"), viper.GetString("store.dsn"), logger)
	if err != nil {
		return err
	}

	set, closeSet, err := openCrankset(
		viper.GetString("crankset.kind"),
		viper.GetString("crankset.redis_url"),
		viper.GetString("crankset.name"),
		logger,
	)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := closeSet(); err != nil {
			logger.Warn("close crankset", slog.String("error", err.Error()))
		}
	}()

	// The engine is built after the client, so the reconnect hook reads
	// it through a pointer.
	var eng atomic.Pointer[engine.Engine]
	client, err := rpc.Dial(ctx, viper.GetString("ledger.url"),
		rpc.WithClientToken(viper.GetString("ledger.token")),
		rpc.WithClientLogger(logger),
		rpc.WithReconnect(backoff.DefaultStrategy(), 0),
		rpc.WithReconnectHook(func() {
			e := eng.Load()
			if e == nil {
				return
			}
			resyncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.Resync(resyncCtx); err != nil {
				logger.Error("resync after reconnect failed", slog.String("error", err.Error()))
			}
		}),
	)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("dial ledger: %w", err)
	}
	defer client.Close()

	cfg := crank.DefaultConfig()
	cfg.WorkerID = viper.GetUint64("worker.id")
	cfg.Concurrency = viper.GetInt("worker.concurrency")
	cfg.RoundInterval = viper.GetDuration("worker.round_interval")
	cfg.SizeLimit = viper.GetInt("worker.size_limit")
	cfg.QueueRate = viper.GetFloat64("worker.queue_rate")
	cfg.AttemptTimeout = viper.GetDuration("worker.attempt_timeout")

	node, err := crank.New(
		crank.WithConfig(cfg),
		crank.WithLogger(logger),
		crank.WithStore(store),
	)
	if err != nil {
		_ = store.Close()
		return err
	}

	opts := []engine.Option{
		engine.WithSigner(signer),
		engine.WithCrankset(set),
	}
	if viper.GetBool("audit.enabled") {
		opts = append(opts, engine.WithExtension(audithook.New(audithook.RecorderFunc(
			func(_ context.Context, ev *audithook.AuditEvent) error {
				logger.Info("audit",
					slog.String("action", ev.Action),
					slog.String("severity", ev.Severity),
					slog.String("outcome", ev.Outcome),
					slog.String("resource", ev.Resource+"/"+ev.ResourceID),
				)
				return nil
			},
		), audithook.WithMinSeverity(viper.GetString("audit.severity")))))
	}

	var events *http.Server
	if addr := viper.GetString("events.addr"); addr != "" {
		broker := stream.NewBroker(logger)
		opts = append(opts, engine.WithExtension(broker))
		mux := http.NewServeMux()
		mux.Handle("/events", broker.Handler())
		events = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := events.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("event stream server stopped", slog.String("error", err.Error()))
			}
		}()
		logger.Info("streaming events", slog.String("addr", addr))
	}

	e, err := engine.Build(node, client, opts...)
	if err != nil {
		_ = store.Close()
		return err
	}
	eng.Store(e)

	if err := e.Start(ctx); err != nil {
		_ = e.Stop(context.Background())
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("crankd running",
		slog.String("signer", signer.String()),
		slog.String("ledger", viper.GetString("ledger.url")),
		slog.String("session", client.SessionID()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = e.Stop(stopCtx)
	// The broker closed every stream on shutdown, so this returns promptly.
	if events != nil {
		if serr := events.Shutdown(stopCtx); serr != nil {
			logger.Warn("event stream server shutdown", slog.String("error", serr.Error()))
		}
	}
	return err
}
