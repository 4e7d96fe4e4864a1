package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/health"
	"github.com/systmms/credops/internal/notify"
	"github.com/systmms/credops/internal/ratelimit"
	"github.com/systmms/credops/internal/rotation"
	"github.com/systmms/credops/internal/scheduler"
)

// NewRunCommand creates the daemon command: scheduler plus metrics endpoint.
func NewRunCommand(cfg *config.Config) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the lifecycle engine daemon",
		Long: `Run starts the maintenance scheduler (health sweeps, emergency expiry,
rotation finalization, expiry warnings, retention) and serves Prometheus
metrics until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()
			defer memguard.Purge()

			if cfg.Definition.Metrics {
				ratelimit.InitMetrics()
				health.InitMetrics()
				rotation.InitMetrics()
				notify.InitMetrics()
				scheduler.InitMetrics()
			}

			sched := scheduler.New(cfg.Logger)
			if err := registerJobs(sched, e); err != nil {
				return err
			}
			sched.Start(ctx)
			defer sched.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			cfg.Logger.Info("credops daemon running, metrics on %s", listen)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			cfg.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9090", "Metrics listen address")
	return cmd
}
