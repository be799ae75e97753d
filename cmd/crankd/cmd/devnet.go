package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/crank/internal/devnet"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/ledger/memory"
	"github.com/xraph/crank/ledger/rpc"
	"github.com/xraph/crank/queue"
	"github.com/xraph/crank/trigger"
)

var devnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Serve an in-memory ledger with the queue program installed",
	Long: `Devnet serves an in-memory ledger over the websocket RPC protocol. Its
clock advances one slot per slot duration of wall time. Demo queues that
step a counter can be seeded at startup.`,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"devnet.listen":      "listen",
			"devnet.token":       "token",
			"devnet.slot":        "slot",
			"devnet.seed":        "seed",
			"devnet.seed_cron":   "seed-cron",
			"devnet.seed_target": "seed-target",
			"devnet.fee":         "fee",
		})
	},
	RunE: runDevnet,
}

func init() {
	rootCmd.AddCommand(devnetCmd)

	f := devnetCmd.Flags()
	f.String("listen", "127.0.0.1:8899", "address to serve RPC on (path /rpc)")
	f.String("token", "", "token clients must present")
	f.Duration("slot", memory.DefaultSlotDuration, "slot duration")
	f.Int("seed", 0, "number of immediate demo queues to create")
	f.String("seed-cron", "", "cron schedule of one extra demo queue, e.g. \"*/10 * * * * *\"")
	f.Uint64("seed-target", 5, "steps each demo chain runs")
	f.Uint64("fee", 0, "step fee paid to workers (0 keeps the program default)")
}

func runDevnet(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slot := viper.GetDuration("devnet.slot")
	if slot <= 0 {
		return fmt.Errorf("slot duration must be positive, got %s", slot)
	}
	d := newDevnet(slot, viper.GetUint64("devnet.fee"), logger)

	if err := seedDevnet(ctx, d, logger); err != nil {
		return err
	}

	srv := rpc.NewServer(d,
		rpc.WithToken(viper.GetString("devnet.token")),
		rpc.WithLogger(logger),
	)
	mux := http.NewServeMux()
	mux.Handle("/rpc", srv)

	httpSrv := &http.Server{
		Addr:              viper.GetString("devnet.listen"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devnet listening", slog.String("addr", httpSrv.Addr), slog.Duration("slot", slot))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go tick(ctx, d, slot)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve devnet: %w", err)
		}
	}

	logger.Info("devnet shutting down",
		slog.Int("connections", srv.Connections().Count()),
		slog.Int("submitted", len(d.Submitted())),
	)
	srv.CloseConnections()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// tick advances the devnet clock one slot per slot of wall time.
func tick(ctx context.Context, d *devnet.Devnet, slot time.Duration) {
	ticker := time.NewTicker(slot)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Advance(slot)
		}
	}
}

func seedDevnet(ctx context.Context, d *devnet.Devnet, logger *slog.Logger) error {
	authority := ledger.NamedAddress("devnet-authority")
	target := viper.GetUint64("devnet.seed_target")

	seed := func(qid string, trig trigger.Trigger) error {
		q, c, err := d.CreateCounterQueue(ctx, devnet.CounterQueue{
			Authority: authority,
			ID:        qid,
			Trigger:   trig,
			Target:    target,
			Funding:   10_000_000,
		})
		if err != nil {
			return err
		}
		logger.Info("seeded queue",
			slog.String("id", qid),
			slog.String("trigger", trig.String()),
			slog.String("queue", q.String()),
			slog.String("counter", c.String()),
		)
		return nil
	}

	for i := 0; i < viper.GetInt("devnet.seed"); i++ {
		if err := seed(fmt.Sprintf("demo-%d", i), trigger.Immediate()); err != nil {
			return err
		}
	}
	if schedule := viper.GetString("devnet.seed_cron"); schedule != "" {
		if err := seed("demo-cron", trigger.Cron(schedule)); err != nil {
			return err
		}
	}
	return nil
}

func newDevnet(slot time.Duration, fee uint64, logger *slog.Logger) *devnet.Devnet {
	var queueOpts []queue.Option
	if fee > 0 {
		queueOpts = append(queueOpts, queue.WithFee(fee))
	}
	return devnet.New([]memory.Option{
		memory.WithClock(time.Now()),
		memory.WithSlotDuration(slot),
		memory.WithLogger(logger),
	}, queueOpts...)
}
