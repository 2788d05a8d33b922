package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wharf-registry/wharf/pkg/config"
	"github.com/wharf-registry/wharf/pkg/log"
	"github.com/wharf-registry/wharf/pkg/server"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wharf",
	Short: "Wharf - A private cargo-protocol package registry",
	Long: `Wharf is a private package registry speaking cargo's sparse
registry protocol: publish, sparse index, tarball downloads, yank,
search, and per-package ownership.

All state lives in pluggable backends (PostgreSQL or embedded for the
index and auth, S3-compatible or local disk for tarballs), so the
service itself is stateless and scales horizontally.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Wharf version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "wharf.yaml", "Path to the configuration file")
	configValidateCmd.Flags().StringVarP(&configPath, "config", "c", "wharf.yaml", "Path to the configuration file")
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry",
	Long: `Run the registry: connect the configured index, storage, and
auth backends, then serve the registry API and the metrics endpoint
until SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Service.LogLevel),
			JSONOutput: cfg.Service.LogJSON,
		})
		logger := log.WithComponent("main")
		logger.Info().
			Str("version", Version).
			Str("config", configPath).
			Msg("Starting wharf")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		idx, err := cfg.BuildIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to build index backend: %w", err)
		}
		store, err := cfg.BuildStorage(ctx)
		if err != nil {
			idx.Close()
			return fmt.Errorf("failed to build storage backend: %w", err)
		}
		authn, err := cfg.BuildAuth(ctx)
		if err != nil {
			idx.Close()
			return fmt.Errorf("failed to build auth backend: %w", err)
		}

		return server.New(cfg, idx, store, authn).Run(ctx)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(configPath); err != nil {
			return err
		}
		fmt.Printf("%s is valid\n", configPath)
		return nil
	},
}
