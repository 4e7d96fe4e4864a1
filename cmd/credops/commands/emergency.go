package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/logging"
)

// keyringService namespaces break-glass tokens in the OS keychain.
const keyringService = "credops-emergency"

// NewEmergencyCommand creates the emergency (break-glass) command group.
func NewEmergencyCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Break-glass access to disabled credentials",
		Long: `Emergency grants temporary, token-guarded access to a credential
outside the normal lifecycle. Only security admins may grant or revoke,
every use is audited, and all admins are notified on grant.`,
	}
	cmd.AddCommand(newEmergencyGrantCommand(cfg))
	cmd.AddCommand(newEmergencyCheckCommand(cfg))
	cmd.AddCommand(newEmergencyVerifyCommand(cfg))
	cmd.AddCommand(newEmergencyRevokeCommand(cfg))
	return cmd
}

func newEmergencyGrantCommand(cfg *config.Config) *cobra.Command {
	var (
		grantedBy string
		reason    string
		duration  time.Duration
		noKeyring bool
	)

	cmd := &cobra.Command{
		Use:   "grant <credential-id>",
		Short: "Grant temporary break-glass access",
		Example: `  # Four hours of access during an incident
  credops emergency grant cred-42 --by alice \
    --reason "INC-2291: payment provider console locked out" --duration 4h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			credentialID := args[0]
			token, err := e.emergency.Grant(ctx, credentialID, grantedBy, reason, duration)
			if err != nil {
				return err
			}

			// The token is shown exactly once; the keychain copy is the only
			// durable one on this machine.
			if noKeyring {
				fmt.Printf("Access token: %s\n", token)
			} else if err := keyring.Set(keyringService, credentialID, token); err != nil {
				cfg.Logger.Warn("could not store token in the OS keychain: %v", err)
				fmt.Printf("Access token: %s\n", token)
			} else {
				cfg.Logger.Info("access token stored in the OS keychain (%s)", logging.Preview(token))
			}

			fmt.Printf("Expires: %s\n", time.Now().Add(duration).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&grantedBy, "by", "", "Security admin granting access")
	cmd.Flags().StringVar(&reason, "reason", "", "Justification (at least 10 characters)")
	cmd.Flags().DurationVar(&duration, "duration", 4*time.Hour, "Grant duration, 1h to 24h")
	cmd.Flags().BoolVar(&noKeyring, "no-keyring", false, "Print the token instead of storing it in the OS keychain")
	_ = cmd.MarkFlagRequired("by")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newEmergencyCheckCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check <credential-id>",
		Short: "Show the break-glass state of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			status, err := e.emergency.Check(ctx, args[0])
			if err != nil {
				return err
			}

			if !status.Active {
				fmt.Println("No active emergency grant.")
				return nil
			}
			fmt.Printf("Active:     yes (%.1f hours remaining)\n", status.HoursRemaining)
			fmt.Printf("Granted by: %s at %s\n", status.GrantedBy, status.GrantedAt.Format(time.RFC3339))
			fmt.Printf("Expires:    %s\n", status.ExpiresAt.Format(time.RFC3339))
			fmt.Printf("Reason:     %s\n", status.Reason)
			return nil
		},
	}
}

func newEmergencyVerifyCommand(cfg *config.Config) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "verify <credential-id>",
		Short: "Verify a break-glass token against the active grant",
		Long: `Verify checks a token against the credential's active grant. Without
--token the token is read from the OS keychain where grant stored it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			credentialID := args[0]
			if token == "" {
				stored, err := keyring.Get(keyringService, credentialID)
				if err != nil {
					if errors.Is(err, keyring.ErrNotFound) {
						return fmt.Errorf("no token in the OS keychain for %s; pass --token", credentialID)
					}
					return fmt.Errorf("could not read token from the OS keychain: %w", err)
				}
				token = stored
			}

			ok, err := e.emergency.VerifyToken(ctx, credentialID, token)
			if err != nil {
				return err
			}
			if !ok {
				cfg.Logger.Error("token does not match the active grant")
				return fmt.Errorf("token rejected for %s", credentialID)
			}
			cfg.Logger.Info("token verified")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Token to verify (defaults to the OS keychain copy)")
	return cmd
}

func newEmergencyRevokeCommand(cfg *config.Config) *cobra.Command {
	var (
		revokedBy string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke an active grant before it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			credentialID := args[0]
			if err := e.emergency.Revoke(ctx, credentialID, revokedBy, reason); err != nil {
				return err
			}
			if err := keyring.Delete(keyringService, credentialID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
				cfg.Logger.Warn("could not remove token from the OS keychain: %v", err)
			}
			cfg.Logger.Info("emergency access on %s revoked", credentialID)
			return nil
		},
	}

	cmd.Flags().StringVar(&revokedBy, "by", "", "Security admin revoking access")
	cmd.Flags().StringVar(&reason, "reason", "", "Why access is being revoked")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
