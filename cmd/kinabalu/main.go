package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/n9te9/kinabalu/config"
	"github.com/spf13/cobra"
)

var version = "v0.1.0"

var configPath string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Kinabalu",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Kinabalu %s\n", version)
	},
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "module", "cli", "outcome", "failure", "error", err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kinabalu",
		Short:         "Federated GraphQL shop: gateway, catalog, checkout and accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(checkoutCmd())
	rootCmd.AddCommand(accountsCmd())
	return rootCmd
}

// loadConfig reads the configuration and installs the JSON logger for service.
func loadConfig(service string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})
	slog.SetDefault(slog.New(handler).With("service", service))
	return cfg, nil
}
