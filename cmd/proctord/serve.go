package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rifahb/hopeless/internal/config"
	"github.com/rifahb/hopeless/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Proctord server",
	Long: `Start the Proctord HTTP server. The server provisions editor
containers, runs the capture scheduler and stores artifacts in SQLite.

Configuration comes from ~/.proctord/config.env and environment
variables (PROCTORD_* keys override the file).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}
