package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openvitals/vitalink/internal/bridge"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for vital-sign monitors",
	Long: `Scan for Bluetooth vital-sign monitors in the vicinity.

Discovered devices are listed with their identifiers, signal strength and
the measurement capabilities derived from their advertised services.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	mgr, _, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.StartScan(); err != nil {
		return err
	}

	// Listen for Ctrl+C to cut the scan short
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-time.After(scanDuration):
	case <-sigCh:
		fmt.Println("\nCtrl+C pressed, stopping scan...")
	}

	if err := mgr.StopScan(); err != nil {
		return err
	}

	devices := mgr.Snapshot().Devices
	return displayDevices(os.Stdout, devices, scanFormat)
}

func displayDevices(out io.Writer, devices []bridge.Device, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tRSSI\tBATTERY\tCAPABILITIES\tSTATE")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, dev := range devices {
		name := dev.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		battery := "unknown"
		if dev.Battery != bridge.BatteryUnknown {
			battery = fmt.Sprintf("%d%%", dev.Battery)
		}

		state := "disconnected"
		if dev.Connected {
			state = color.GreenString("connected")
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\t%s\n",
			name, dev.ID, dev.RSSI, battery,
			strings.Join(dev.Capabilities, ","), state)
	}

	return w.Flush()
}
