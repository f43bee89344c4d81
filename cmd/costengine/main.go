package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aydarnuman/catering-pro-sub001/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "costengine",
	Short: "Catering price resolution and cost rollup service",
	Long: `costengine resolves ingredient prices from invoices, market observations
and manual entries, and rolls them up into recipe, meal and menu plan costs.

Configuration is read from the environment (see internal/app/config.go).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime reads the environment and builds the process logger.
func loadRuntime() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, app.NewLogger(cfg), nil
}
