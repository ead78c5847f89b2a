package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvitals/vitalink/internal/bridge"
	"github.com/openvitals/vitalink/internal/conn"
	"github.com/openvitals/vitalink/internal/store"
)

// measureCmd starts a live measurement on the connected monitor and
// persists the readings until interrupted.
var measureCmd = &cobra.Command{
	Use:   "measure <bp|ecg>",
	Short: "Run a live measurement and record the readings",
	Long: `Start a blood pressure or ECG measurement on the connected monitor.

The previously connected monitor is re-adopted automatically when possible.
Readings stream into the local database until Ctrl+C stops the measurement.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{bridge.MeasureBP, bridge.MeasureECG},
	RunE:      runMeasure,
}

var measurePatient string

func init() {
	measureCmd.Flags().StringVarP(&measurePatient, "patient", "p", "", "Patient identifier to attach to the readings")
}

func runMeasure(cmd *cobra.Command, args []string) error {
	kind := args[0]
	if kind != bridge.MeasureBP && kind != bridge.MeasureECG {
		return fmt.Errorf("unsupported measurement kind %q (must be bp or ecg)", kind)
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A fresh process has no session yet; try to restore the previous one.
	mgr.AutoReconnect(ctx)
	waitForSession(mgr, 5*time.Second)

	if mgr.Snapshot().ConnectedID == "" {
		return bridge.ErrNoDeviceConnected
	}

	switch kind {
	case bridge.MeasureBP:
		err = mgr.StartBPMeasurement()
	case bridge.MeasureECG:
		err = mgr.StartECGMeasurement()
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.StopMeasurement(); err != nil {
			logger.WithError(err).Warn("Failed to stop measurement")
		}
	}()

	fmt.Printf("Measuring %s, Ctrl+C to stop...\n", kind)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	count := 0
	for {
		select {
		case <-sigCh:
			fmt.Printf("\nRecorded %d readings\n", count)
			return nil
		case ev, ok := <-mgr.Events():
			if !ok {
				return nil
			}
			if ev.Type != conn.EventMeasurement || ev.Kind != kind {
				continue
			}
			reading := &store.Reading{
				DeviceID:  ev.DeviceID,
				PatientID: measurePatient,
				Kind:      kind,
				Payload:   encodePayload(ev.Payload),
			}
			if err := st.SaveReading(ctx, reading); err != nil {
				logger.WithError(err).Warn("Failed to save reading")
				continue
			}
			count++
		}
	}
}

// waitForSession blocks until the manager has a connected device or the
// timeout elapses. The reconnect sequence commits its session through an
// asynchronous bridge callback, so a short poll is needed after it returns.
func waitForSession(mgr *conn.Manager, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mgr.Snapshot().ConnectedID != "" {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// encodePayload wraps raw measurement bytes in the JSON document stored in
// the readings table.
func encodePayload(raw []byte) json.RawMessage {
	doc, _ := json.Marshal(map[string]string{"raw": hex.EncodeToString(raw)})
	return doc
}
