package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/cmd/credops/commands"
	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "credops",
		Short: "Credential lifecycle engine - gate, monitor, rotate, and audit API credentials",
		Long: `credops manages the lifecycle of third-party API credentials: access
control, rate limiting, health monitoring, zero-downtime rotation,
break-glass emergency access, and a full audit trail.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "credops.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(
		commands.NewRunCommand(cfg),
		commands.NewJobsCommand(cfg),
		commands.NewHealthCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewEmergencyCommand(cfg),
		commands.NewAuditCommand(cfg),
		commands.NewAccessCommand(cfg),
		commands.NewCredentialCommand(cfg),
	)

	return rootCmd.Execute()
}
