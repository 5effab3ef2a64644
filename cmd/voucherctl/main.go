package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voucher_backend/internal/app"
	"voucher_backend/internal/config"
	"voucher_backend/internal/logging"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "voucherctl",
		Short:         "Operator tools for the voucher liquidation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides VOUCHER_CONFIG)")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(resolveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads configuration and builds the service against the configured
// database, exactly as the server does.
func open(ctx context.Context) (*app.App, error) {
	if configPath != "" {
		os.Setenv("VOUCHER_CONFIG", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// stdout carries command output
	logger := logging.NewWithWriter(cfg.Logging, os.Stderr)
	return app.Build(ctx, cfg, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
