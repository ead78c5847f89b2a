package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// connectCmd connects to a monitor by identifier, scanning for it first
// when it has not been discovered yet.
var connectCmd = &cobra.Command{
	Use:   "connect <device-id>",
	Short: "Connect to a vital-sign monitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the active monitor",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection manager state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var connectTimeout time.Duration

func init() {
	connectCmd.Flags().DurationVarP(&connectTimeout, "timeout", "t", 30*time.Second, "Time to wait for the connection to establish")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mgr, _, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	id := args[0]
	if err := mgr.Connect(id); err != nil {
		return err
	}

	// State commits when the bridge reports the connection; watch the
	// event stream rather than polling.
	deadline := time.After(connectTimeout)
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timed out connecting to %s", id)
		case ev, ok := <-mgr.Events():
			if !ok {
				return fmt.Errorf("manager closed while connecting")
			}
			switch {
			case ev.Err != nil:
				return ev.Err
			case ev.DeviceID == id && mgr.Snapshot().ConnectedID == id:
				fmt.Printf("Connected to %s\n", color.GreenString(id))
				return nil
			}
		}
	}
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mgr, _, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Disconnect(); err != nil {
		return err
	}
	fmt.Println("Disconnected")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mgr, _, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Initialize(); err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(mgr.Snapshot())
}
