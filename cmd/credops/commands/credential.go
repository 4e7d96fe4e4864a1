package commands

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/vault"
)

// NewCredentialCommand creates the credential command group.
func NewCredentialCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Register and inspect credentials",
	}
	cmd.AddCommand(newCredentialAddCommand(cfg))
	cmd.AddCommand(newCredentialListCommand(cfg))
	cmd.AddCommand(newCredentialShowCommand(cfg))
	return cmd
}

func newCredentialAddCommand(cfg *config.Config) *cobra.Command {
	var (
		id             string
		name           string
		serviceType    string
		probeURL       string
		expires        string
		allowedIPs     []string
		allowedDomains []string
		perMinute      int
		maxConcurrent  int
		addedBy        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a credential and store its secret in the vault",
		Long: `Add registers a credential's metadata and prompts for the secret
value, which goes straight into the vault and never touches the
metadata store.`,
		Example: `  credops credential add --name stripe-prod --type payments \
    --probe-url https://api.stripe.com --by alice \
    --allow-ip 10.0.0.0/8 --allow-domain "*.example.com" \
    --rate-limit 600 --max-concurrent 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.defs.IsSupported(serviceType) {
				return credErrors.ValidationError{
					Field:   "type",
					Value:   serviceType,
					Message: fmt.Sprintf("unknown service type (known: %s)", strings.Join(e.defs.Types(), ", ")),
				}
			}

			cred := &credential.Credential{
				ID:                 id,
				Name:               name,
				ServiceType:        serviceType,
				Active:             true,
				ProbeURL:           probeURL,
				AllowedIPs:         allowedIPs,
				AllowedDomains:     allowedDomains,
				RateLimitPerMinute: perMinute,
				MaxConcurrent:      maxConcurrent,
			}
			if cred.ID == "" {
				cred.ID = uuid.NewString()
			}
			if expires != "" {
				t, err := parseDay("expires", expires)
				if err != nil {
					return err
				}
				cred.ExpiresAt = &t
			}

			secret, err := promptSecret("Secret value: ")
			if err != nil {
				return err
			}
			if secret == "" {
				return credErrors.ValidationError{Field: "secret", Message: "secret value must not be empty"}
			}
			cred.SecretPreview = logging.Preview(secret)

			if err := e.credentials.Create(ctx, cred); err != nil {
				return err
			}
			if err := e.vault.Store(ctx, vault.CredentialKey(cred.ID), secret); err != nil {
				return fmt.Errorf("failed to store secret in the vault: %w", err)
			}

			if err := e.recorder.Log(ctx, audit.Entry{
				CredentialID: cred.ID,
				Action:       audit.ActionCreate,
				Principal:    addedBy,
				Success:      true,
				Metadata:     map[string]string{"service_type": serviceType},
			}); err != nil {
				return err
			}

			cfg.Logger.Info("credential %s registered as %s", name, cred.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Credential ID (generated when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name")
	cmd.Flags().StringVar(&serviceType, "type", "generic", "Service type")
	cmd.Flags().StringVar(&probeURL, "probe-url", "", "Base URL (or DSN for database types) health probes target")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&allowedIPs, "allow-ip", nil, "Allowed IP or CIDR (repeatable; empty allows all)")
	cmd.Flags().StringSliceVar(&allowedDomains, "allow-domain", nil, "Allowed domain or *.suffix wildcard (repeatable)")
	cmd.Flags().IntVar(&perMinute, "rate-limit", 0, "Requests per minute, 0 for unlimited")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Concurrent requests, 0 for unlimited")
	cmd.Flags().StringVar(&addedBy, "by", "", "Principal registering the credential")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newCredentialListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			creds, err := e.credentials.ListActive(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tEXPIRES\tLAST ROTATED")
			for _, cred := range creds {
				expires := "-"
				if cred.ExpiresAt != nil {
					expires = cred.ExpiresAt.Format("2006-01-02")
				}
				rotated := "never"
				if cred.LastRotatedAt != nil {
					rotated = cred.LastRotatedAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cred.ID, cred.Name, cred.ServiceType, expires, rotated)
			}
			return nil
		},
	}
}

func newCredentialShowCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <credential-id>",
		Short: "Show one credential's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			cred, err := e.credentials.Get(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:           %s\n", cred.ID)
			fmt.Printf("Name:         %s\n", cred.Name)
			fmt.Printf("Type:         %s\n", cred.ServiceType)
			fmt.Printf("Active:       %t\n", cred.Active)
			fmt.Printf("Secret:       %s\n", cred.SecretPreview)
			if cred.ProbeURL != "" {
				fmt.Printf("Probe URL:    %s\n", cred.ProbeURL)
			}
			if cred.ExpiresAt != nil {
				fmt.Printf("Expires:      %s\n", cred.ExpiresAt.Format(time.RFC3339))
			}
			if len(cred.AllowedIPs) > 0 {
				fmt.Printf("Allowed IPs:  %s\n", strings.Join(cred.AllowedIPs, ", "))
			}
			if len(cred.AllowedDomains) > 0 {
				fmt.Printf("Domains:      %s\n", strings.Join(cred.AllowedDomains, ", "))
			}
			if cred.RateLimitPerMinute > 0 {
				fmt.Printf("Rate limit:   %d/minute\n", cred.RateLimitPerMinute)
			}
			if cred.MaxConcurrent > 0 {
				fmt.Printf("Concurrency:  %d\n", cred.MaxConcurrent)
			}
			if cred.LastRotatedAt != nil {
				fmt.Printf("Last rotated: %s\n", cred.LastRotatedAt.Format(time.RFC3339))
			}
			if cred.Emergency != nil && cred.Emergency.Active {
				fmt.Printf("Emergency:    🚨 active until %s (granted by %s)\n",
					cred.Emergency.ExpiresAt.Format(time.RFC3339), cred.Emergency.GrantedBy)
			}
			return nil
		},
	}
}

// promptSecret reads a secret from the terminal without echo, falling back
// to a plain line read when stdin is not a terminal (piped input).
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		value, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(value), nil
	}

	var value string
	if _, err := fmt.Fscanln(os.Stdin, &value); err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return value, nil
}
