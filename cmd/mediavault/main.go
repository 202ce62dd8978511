package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/mediavault/cmd/mediavault/commands"
	"github.com/systmms/mediavault/internal/config"
	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", dserrors.SimplifyError(err))
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
		Use:   "mediavault",
		Short: "Media upload backend core - credentials, pools and storage",
		Long: `mediavault keeps database pools and the storage client in step with
credentials held in AWS Secrets Manager or SSM, rebuilding them when the
secret is rotated.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewServeCommand(cfg, &debug),
		commands.NewCheckCommand(cfg, &debug),
		commands.NewVersionCommand(version, commit, date),
	)

	return rootCmd.Execute()
}
