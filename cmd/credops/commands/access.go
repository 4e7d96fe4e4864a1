package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
)

// NewAccessCommand creates the access command group.
func NewAccessCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Evaluate access control and rate limit decisions",
	}
	cmd.AddCommand(newAccessCheckCommand(cfg))
	return cmd
}

func newAccessCheckCommand(cfg *config.Config) *cobra.Command {
	var (
		clientIP string
		domain   string
	)

	cmd := &cobra.Command{
		Use:   "check <credential-id>",
		Short: "Check whether a caller would be admitted",
		Long: `Check runs the full admission pipeline for a hypothetical caller:
allowlist validation first, then the sliding-window rate limit and the
concurrency gate. The rate limiter state is process-local, so repeated
invocations of this command each see a fresh window.`,
		Example: `  # Would this origin be admitted?
  credops access check cred-42 --ip 10.1.2.3 --domain app.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			credentialID := args[0]
			decision, err := e.gate.CheckAccess(ctx, credentialID, clientIP, domain)
			if err != nil {
				return err
			}
			if !decision.Allowed {
				cfg.Logger.Error("denied: %s", decision.Reason)
				return fmt.Errorf("access denied for %s", credentialID)
			}

			cred, err := e.credentials.Get(ctx, credentialID)
			if err != nil {
				return err
			}
			admit := e.limiter.Check(credentialID, cred.RateLimitPerMinute, cred.MaxConcurrent)
			if !admit.Allowed {
				cfg.Logger.Error("denied: %s (retry after %v)", admit.Reason, admit.RetryAfter.Round(time.Second))
				return fmt.Errorf("access denied for %s", credentialID)
			}

			cfg.Logger.Info("allowed")
			if admit.Remaining >= 0 {
				fmt.Printf("Remaining this minute: %d (window resets %s)\n",
					admit.Remaining, admit.ResetAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientIP, "ip", "", "Caller IP address")
	cmd.Flags().StringVar(&domain, "domain", "", "Caller domain")
	_ = cmd.MarkFlagRequired("ip")
	return cmd
}
