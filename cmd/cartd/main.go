package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.FromEnv()

	cmd := &cobra.Command{
		Use:           "cartd",
		Short:         "Offline-first shopping cart daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfg.RemoteBackend, "remote", cfg.RemoteBackend, "remote backend (mysql|postgres)")
	cmd.PersistentFlags().BoolVar(&cfg.LogDevelopment, "dev", cfg.LogDevelopment, "human readable debug logging")

	cmd.AddCommand(newServeCommand(&cfg))
	cmd.AddCommand(newMigrateCommand(&cfg))
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
