// Command controlplane runs the Supervisor, Dispatcher, and Front Socket in
// one process, plus the
// admin socket and the /metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"faasd/internal/config"
	"faasd/internal/dispatcher"
	"faasd/internal/frontsocket"
	"faasd/internal/metrics"
	"faasd/internal/obslog"
	"faasd/internal/ratelimit"
	"faasd/internal/slotpool"
	"faasd/internal/store"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "controlplane",
		Short: "Runs the dispatch fabric's supervisor, dispatcher, and front socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	def := config.Default()
	config.BindFlags(cmd.Flags(), def)
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "controlplane:", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := obslog.New("controlplane", nil)

	st, err := store.Open(cfg.StoreRoot, obslog.New("store", nil))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, promReg := metrics.New()
	reg.PoolSize.Set(float64(cfg.PoolSize))
	reg.StartHostSampler(ctx, 5*time.Second)

	sup := slotpool.New(cfg.WorkerBinaryPath, cfg.PoolSize, cfg.RespawnDelay, obslog.New("supervisor", nil),
		slotpool.WithKillGrace(500*time.Millisecond),
		slotpool.WithMetrics(reg))

	disp, err := dispatcher.New(cfg.Policy, sup, cfg.DispatchRetries, obslog.New("dispatcher", nil))
	if err != nil {
		return fmt.Errorf("constructing dispatcher: %w", err)
	}
	disp.SetMetrics(reg)
	sup.SetStateChangeHook(disp.OnStateChange)

	if err := sup.Start(); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	lim, err := ratelimit.New(cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("constructing rate limiter: %w", err)
	}

	front := frontsocket.New(cfg.FrontSocketPath, st, disp, lim, cfg.SubmitDeadline, obslog.New("frontsocket", nil))
	admin := frontsocket.New(cfg.AdminSocketPath, st, disp, nil, cfg.SubmitDeadline, obslog.New("adminsocket", nil))

	errCh := make(chan error, 3)
	go func() { errCh <- front.Serve(ctx) }()
	go func() { errCh <- admin.Serve(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promReg))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Info().
		Int("pool_size", cfg.PoolSize).
		Str("policy", disp.Policy()).
		Str("front_socket", cfg.FrontSocketPath).
		Str("admin_socket", cfg.AdminSocketPath).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("controlplane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal component error, shutting down")
	}

	cancel()
	_ = front.Close()
	_ = admin.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	sup.Shutdown(500 * time.Millisecond)

	return nil
}
