package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/rotation"
)

// NewRotateCommand creates the rotate command group.
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate credentials with zero downtime",
		Long: `Rotate installs and verifies a new secret while the old one stays
valid through a grace period. Sessions can be completed, cancelled, or
rolled back until they reach a terminal state.`,
	}
	cmd.AddCommand(newRotateStartCommand(cfg))
	cmd.AddCommand(newRotateStatusCommand(cfg))
	cmd.AddCommand(newRotateCompleteCommand(cfg))
	cmd.AddCommand(newRotateRollbackCommand(cfg))
	cmd.AddCommand(newRotateCancelCommand(cfg))
	return cmd
}

// rotationOptions merges the configured defaults with per-invocation flags.
func rotationOptions(cfg *config.Config, grace time.Duration, checks int, interval time.Duration, noRollback bool) rotation.Options {
	opts := rotation.Options{
		GracePeriod:    cfg.Definition.Rotation.GracePeriod,
		VerifyChecks:   cfg.Definition.Rotation.VerifyChecks,
		VerifyInterval: cfg.Definition.Rotation.VerifyInterval,
		NoAutoRollback: cfg.Definition.Rotation.NoAutoRollback,
	}
	if grace > 0 {
		opts.GracePeriod = grace
	}
	if checks > 0 {
		opts.VerifyChecks = checks
	}
	if interval > 0 {
		opts.VerifyInterval = interval
	}
	if noRollback {
		opts.NoAutoRollback = true
	}
	return opts
}

func newRotateStartCommand(cfg *config.Config) *cobra.Command {
	var (
		initiatedBy    string
		grace          time.Duration
		checks         int
		interval       time.Duration
		noAutoRollback bool
	)

	cmd := &cobra.Command{
		Use:   "start <credential-id>",
		Short: "Start a rotation session",
		Example: `  # Rotate with the configured defaults
  credops rotate start cred-42 --by alice

  # Longer grace period, stricter verification
  credops rotate start cred-42 --by alice --grace 30m --checks 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			opts := rotationOptions(cfg, grace, checks, interval, noAutoRollback)
			session, err := e.orchestrator.Initiate(ctx, args[0], initiatedBy, opts)
			if err != nil {
				if session != nil {
					cfg.Logger.Error("rotation session %s ended %s", session.ID, session.Status)
				}
				return err
			}

			cfg.Logger.Info("rotation session %s entered grace period", session.ID)
			fmt.Printf("Session:      %s\n", session.ID)
			fmt.Printf("New secret:   %s\n", session.NewSecretPreview)
			fmt.Printf("Grace until:  %s\n", session.GraceDeadline().Format(time.RFC3339))
			fmt.Printf("Complete now: credops rotate complete %s\n", session.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&initiatedBy, "by", "", "Principal initiating the rotation")
	cmd.Flags().DurationVar(&grace, "grace", 0, "Grace period during which both secrets stay valid")
	cmd.Flags().IntVar(&checks, "checks", 0, "Consecutive verification checks the new secret must pass")
	cmd.Flags().DurationVar(&interval, "check-interval", 0, "Pause between verification checks")
	cmd.Flags().BoolVar(&noAutoRollback, "no-auto-rollback", false, "Leave the new secret installed if verification fails")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newRotateStatusCommand(cfg *config.Config) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status <credential-id>",
		Short: "Show the active rotation session for a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			session, err := e.orchestrator.ActiveSession(ctx, args[0])
			if err != nil {
				return err
			}
			if session == nil {
				fmt.Println("Status: idle (no active rotation)")
			} else {
				printSession(session)
			}

			if !history {
				return nil
			}
			sessions, err := e.sessions.ListByCredential(ctx, args[0])
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "\nSESSION\tSTATUS\tSTARTED\tINITIATED BY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ID, formatSessionStatus(s.Status), s.StartedAt.Format(time.RFC3339), s.InitiatedBy)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Also list past sessions")
	return cmd
}

func newRotateCompleteCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Finish a session: retire the old secret and end the grace period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			session, err := e.orchestrator.Complete(ctx, args[0])
			if err != nil {
				return err
			}
			cfg.Logger.Info("rotation %s completed; old secret retired", session.ID)
			return nil
		},
	}
}

func newRotateRollbackCommand(cfg *config.Config) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "rollback <session-id>",
		Short: "Restore the old secret for a non-terminal or failed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			session, err := e.orchestrator.Rollback(ctx, args[0], reason)
			if err != nil {
				return err
			}
			cfg.Logger.Warn("rotation %s rolled back; old secret restored", session.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the rotation is being rolled back")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newRotateCancelCommand(cfg *config.Config) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session during its grace period, restoring the old secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			session, err := e.orchestrator.Cancel(ctx, args[0], reason)
			if err != nil {
				return err
			}
			cfg.Logger.Warn("rotation %s cancelled; old secret restored", session.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the rotation is being cancelled")
	return cmd
}

func printSession(s *rotation.Session) {
	fmt.Printf("Session:     %s\n", s.ID)
	fmt.Printf("Status:      %s\n", formatSessionStatus(s.Status))
	fmt.Printf("Initiated:   %s by %s\n", s.StartedAt.Format(time.RFC3339), s.InitiatedBy)
	if s.Status == rotation.StatusGracePeriod {
		fmt.Printf("Grace until: %s\n", s.GraceDeadline().Format(time.RFC3339))
	}
	if s.Error != "" {
		fmt.Printf("Error:       %s\n", s.Error)
	}
}

func formatSessionStatus(status rotation.Status) string {
	switch status {
	case rotation.StatusInProgress:
		return "🔄 in_progress"
	case rotation.StatusGracePeriod:
		return "🕐 grace_period"
	case rotation.StatusCompleted:
		return "✅ completed"
	case rotation.StatusFailed:
		return "❌ failed"
	case rotation.StatusRolledBack:
		return "↩️ rolled_back"
	default:
		return status.String()
	}
}
