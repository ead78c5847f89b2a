package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openvitals/vitalink/internal/bridge/goble"
	"github.com/openvitals/vitalink/internal/conn"
	"github.com/openvitals/vitalink/internal/hint"
	"github.com/openvitals/vitalink/pkg/config"
)

// newManager wires a connection manager from the command's flags and config
// file: the go-ble bridge, the file-backed reconnection hint, and the
// configured timings.
func newManager(cmd *cobra.Command, logger *logrus.Logger) (*conn.Manager, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	mgr := conn.NewManager(
		goble.New(logger),
		hint.NewFileStore(cfg.HintPath),
		conn.Options{
			HealthCheckInterval:  cfg.HealthCheckInterval,
			ReconnectScanTimeout: cfg.ReconnectScanTimeout,
		},
		logger,
	)
	return mgr, cfg, nil
}
