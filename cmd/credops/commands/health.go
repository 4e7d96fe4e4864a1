package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/health"
)

// NewHealthCommand creates the health command group.
func NewHealthCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe and inspect credential health",
	}
	cmd.AddCommand(newHealthCheckCommand(cfg))
	cmd.AddCommand(newHealthStatusCommand(cfg))
	cmd.AddCommand(newHealthUptimeCommand(cfg))
	return cmd
}

func newHealthCheckCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check [credential-id]",
		Short: "Probe one credential, or all active credentials",
		Example: `  # Probe a single credential
  credops health check cred-42

  # Sweep every active credential
  credops health check`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 0 {
				sweep, err := e.monitor.CheckAll(ctx)
				if err != nil {
					return err
				}
				cfg.Logger.Info("checked %d credentials: %d healthy, %d degraded, %d unhealthy",
					sweep.Checked, sweep.Healthy, sweep.Degraded, sweep.Unhealthy)
				for _, msg := range sweep.Errors {
					cfg.Logger.Warn("%s", msg)
				}
				return nil
			}

			result, err := e.monitor.Check(ctx, args[0])
			if err != nil {
				return err
			}
			printHealthStatus(cfg, result.Status, result.Latency, result.Error)
			return nil
		},
	}
}

func newHealthStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <credential-id>",
		Short: "Show the latest recorded health status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.monitor.Status(ctx, args[0])
			if err != nil {
				return err
			}

			if report.Status == health.StatusUnknown {
				fmt.Printf("Status: ⚪ unknown (never checked)\n")
				return nil
			}
			printHealthStatus(cfg, report.Status, report.Latency, report.Error)
			fmt.Printf("Last checked: %s\n", report.LastChecked.Format(time.RFC3339))
			if report.ConsecutiveFailures > 0 {
				fmt.Printf("Consecutive failures: %d\n", report.ConsecutiveFailures)
			}
			return nil
		},
	}
}

func newHealthUptimeCommand(cfg *config.Config) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "uptime <credential-id>",
		Short: "Show uptime percentage and incidents over a trailing window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.monitor.Uptime(ctx, args[0], days)
			if err != nil {
				return err
			}

			fmt.Printf("Uptime over %d days: %.2f%% (%d/%d checks up)\n",
				report.Days, report.UptimePercent, report.UpChecks, report.TotalChecks)
			if len(report.Incidents) == 0 {
				fmt.Println("No incidents.")
				return nil
			}
			fmt.Printf("Incidents: %d\n", len(report.Incidents))
			for _, inc := range report.Incidents {
				if inc.Ongoing {
					fmt.Printf("  - %s .. ongoing\n", inc.Start.Format(time.RFC3339))
					continue
				}
				fmt.Printf("  - %s .. %s (%v)\n",
					inc.Start.Format(time.RFC3339), inc.End.Format(time.RFC3339), inc.Duration.Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Trailing window in days")
	return cmd
}

func printHealthStatus(cfg *config.Config, status health.Status, latency time.Duration, errMsg string) {
	switch status {
	case health.StatusHealthy:
		cfg.Logger.Info("healthy (%v)", latency.Round(time.Millisecond))
	case health.StatusDegraded:
		cfg.Logger.Warn("degraded (%v): %s", latency.Round(time.Millisecond), errMsg)
	case health.StatusUnhealthy:
		cfg.Logger.Error("unhealthy: %s", errMsg)
	default:
		fmt.Printf("Status: %s\n", status)
	}
}
