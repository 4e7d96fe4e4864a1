package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/scheduler"
)

// NewJobsCommand creates the jobs command group for inspecting and
// triggering maintenance jobs.
func NewJobsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger maintenance jobs",
	}
	cmd.AddCommand(newJobsListCommand(cfg))
	cmd.AddCommand(newJobsTriggerCommand(cfg))
	return cmd
}

func newJobsListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"list"},
		Short:   "List the standard maintenance jobs and their intervals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			sched := scheduler.New(cfg.Logger)
			if err := registerJobs(sched, e); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "JOB\tINTERVAL\tLAST RUN\tRUNS")
			fmt.Fprintln(w, "---\t--------\t--------\t----")
			for _, st := range sched.Status() {
				lastRun := "never"
				if !st.LastRun.IsZero() {
					lastRun = st.LastRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", st.Name, st.Interval, lastRun, st.TotalRuns)
			}
			return nil
		},
	}
}

func newJobsTriggerCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job-name>",
		Short: "Run one maintenance job immediately",
		Example: `  # Run a health sweep now
  credops jobs trigger health_sweep

  # Purge audit entries past the retention window
  credops jobs trigger audit_retention`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			sched := scheduler.New(cfg.Logger)
			if err := registerJobs(sched, e); err != nil {
				return err
			}

			name := args[0]
			result, err := sched.TriggerJob(ctx, name)
			if err != nil {
				return fmt.Errorf("job %s: %w (available: %s)", name, err, strings.Join(sched.JobNames(), ", "))
			}

			cfg.Logger.Info("job %s finished in %v", name, result.Duration.Round(time.Millisecond))
			fmt.Printf("Processed: %d\nSucceeded: %d\nFailed:    %d\n", result.Processed, result.Succeeded, result.Failed)
			for _, msg := range result.Errors {
				fmt.Printf("  - %s\n", msg)
			}
			return nil
		},
	}
}

// registerJobs wires the standard job set against a built engine.
func registerJobs(sched *scheduler.Scheduler, e *engine) error {
	return scheduler.RegisterStandardJobs(sched, scheduler.Deps{
		Monitor:      e.monitor,
		Emergency:    e.emergency,
		Orchestrator: e.orchestrator,
		Limiter:      e.limiter,
		Credentials:  e.credentials,
		Recorder:     e.recorder,
		AuditStore:   e.auditStore,
		History:      e.history,
		Notifier:     e.notifier,
	})
}
