package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/config"
	credErrors "github.com/systmms/credops/internal/errors"
)

// NewAuditCommand creates the audit command group.
func NewAuditCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail and generate compliance reports",
	}
	cmd.AddCommand(newAuditListCommand(cfg))
	cmd.AddCommand(newAuditReportCommand(cfg))
	cmd.AddCommand(newAuditExportCommand(cfg))
	return cmd
}

// parseDay accepts YYYY-MM-DD and returns midnight UTC of that day.
func parseDay(flag, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, credErrors.ValidationError{
			Field:   flag,
			Value:   value,
			Message: "expected a date in YYYY-MM-DD form",
		}
	}
	return t, nil
}

func newAuditListCommand(cfg *config.Config) *cobra.Command {
	var (
		credentialID string
		principal    string
		action       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.recorder.Query(ctx, audit.Filter{
				CredentialID: credentialID,
				Principal:    principal,
				Action:       audit.Action(action),
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			for _, entry := range entries {
				outcome := "ok"
				if !entry.Success {
					outcome = "FAILED"
				}
				fmt.Printf("%s  %-18s %-8s cred=%s principal=%s",
					entry.CreatedAt.Format(time.RFC3339), entry.Action, outcome, entry.CredentialID, entry.Principal)
				if entry.Error != "" {
					fmt.Printf(" error=%q", entry.Error)
				}
				fmt.Println()
			}
			cfg.Logger.Debug("%d entries", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&credentialID, "credential", "", "Filter by credential ID")
	cmd.Flags().StringVar(&principal, "principal", "", "Filter by principal")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func newAuditReportCommand(cfg *config.Config) *cobra.Command {
	var (
		reportType string
		from       string
		to         string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a compliance report over a date window",
		Example: `  # Full report for July
  credops audit report --from 2026-07-01 --to 2026-07-31

  # Rotation-focused report
  credops audit report --type rotation --from 2026-07-01 --to 2026-07-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			start, err := parseDay("from", from)
			if err != nil {
				return err
			}
			end, err := parseDay("to", to)
			if err != nil {
				return err
			}
			// Make --to inclusive of the whole day.
			end = end.Add(24*time.Hour - time.Nanosecond)

			report, err := e.recorder.GenerateComplianceReport(ctx, start, end, audit.ReportType(reportType))
			if err != nil {
				return err
			}

			fmt.Printf("Compliance report (%s) %s .. %s\n", report.Type, from, to)
			fmt.Printf("Events: %d total, %d successful, %d failed\n",
				report.TotalEvents, report.SuccessfulEvents, report.FailedEvents)
			fmt.Printf("Principals: %d, credentials: %d\n\n", report.UniquePrincipals, report.UniqueCredentials)

			for _, section := range report.Sections {
				fmt.Printf("%s %s: %s\n", formatCompliance(section.Status), section.Name, section.Summary)
				for key, count := range section.Counts {
					fmt.Printf("    %-12s %d\n", key, count)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportType, "type", string(audit.ReportFull), "Report type: access, rotation, full")
	cmd.Flags().StringVar(&from, "from", "", "Window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (YYYY-MM-DD, inclusive)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newAuditExportCommand(cfg *config.Config) *cobra.Command {
	var (
		out          string
		credentialID string
		exportedBy   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as CSV",
		Long: `Export writes matching audit entries to a CSV file. Exporting is
itself a sensitive action and lands in the audit trail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()

			count, err := e.recorder.ExportCSV(ctx, f, audit.Filter{CredentialID: credentialID})

			if auditErr := e.recorder.Log(ctx, audit.Entry{
				CredentialID: credentialID,
				Action:       audit.ActionExport,
				Principal:    exportedBy,
				Success:      err == nil,
				Metadata:     map[string]string{"destination": out, "entries": fmt.Sprintf("%d", count)},
			}); auditErr != nil {
				return auditErr
			}
			if err != nil {
				return err
			}

			cfg.Logger.Info("exported %d entries to %s", count, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "audit-export.csv", "Destination file")
	cmd.Flags().StringVar(&credentialID, "credential", "", "Limit the export to one credential")
	cmd.Flags().StringVar(&exportedBy, "by", "", "Principal performing the export")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func formatCompliance(status audit.ComplianceStatus) string {
	switch status {
	case audit.StatusCompliant:
		return "✅"
	case audit.StatusWarning:
		return "🟡"
	case audit.StatusNonCompliant:
		return "❌"
	default:
		return "•"
	}
}
