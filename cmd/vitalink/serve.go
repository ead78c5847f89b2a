package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvitals/vitalink/internal/api"
	"github.com/openvitals/vitalink/internal/store"
)

// serveCmd runs the REST API server alongside the connection manager.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Long: `Run the REST API server backed by the connection manager and the
local readings database.

On startup the previously connected monitor is re-adopted when possible.
The server shuts down gracefully on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mgr, cfg, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Best-effort: a failure leaves the session disconnected and the API
	// still useful for scanning and stored readings.
	go mgr.AutoReconnect(ctx)

	server := api.NewServer(addr, mgr, st, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}
