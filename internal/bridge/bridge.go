// Package bridge defines the contract between the connection manager and
// the underlying Bluetooth stack. The stack owns all protocol framing; the
// rest of the application only sees the primitives and callbacks declared
// here.
package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Device describes a vital-sign monitor as reported by the stack.
type Device struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Connected    bool     `json:"connected"`
	Battery      int      `json:"battery"` // 0-100, BatteryUnknown if never reported
	Capabilities []string `json:"capabilities,omitempty"`
	RSSI         int      `json:"rssi,omitempty"`
}

// BatteryUnknown marks a device whose battery level has not been reported.
const BatteryUnknown = -1

// Measurement kinds delivered through the Measurement callback.
const (
	MeasureBP      = "bp"
	MeasureECG     = "ecg"
	MeasureSpO2    = "spo2"
	MeasureGlucose = "glucose"
)

// DisplayName returns the device name, falling back to its identifier.
func (d *Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Callbacks receives asynchronous events from the stack. All callbacks for
// a single device are delivered in the order the stack issues them;
// cross-device ordering is unspecified.
type Callbacks struct {
	DeviceFound        func(dev Device)
	DeviceConnected    func(id string)
	DeviceDisconnected func(id string)
	BatteryUpdate      func(id string, level int)
	RadioStatusChanged func(enabled bool)
	Error              func(msg string, details error)
	// Measurement delivers live measurement payloads for the named kind
	// (bp, ecg, spo2, glucose) while a measurement is running.
	Measurement func(id, kind string, payload []byte)
}

// Bridge exposes the Bluetooth primitives consumed by the connection
// manager. All calls are fallible I/O; completion of connect and disconnect
// is signalled through Callbacks, not by the method returning.
type Bridge interface {
	Initialize(cb Callbacks) error
	StartScan() error
	StopScan() error
	Connect(id string) error
	Disconnect(id string) error
	ConnectedDevices() ([]string, error)
	BatteryLevel(id string) (int, error)
	StartBPMeasurement(id string) error
	StartECGMeasurement(id string) error
	StopLive(id string) error
}

// ErrorKind classifies bridge failures.
type ErrorKind string

const (
	KindSdkUnavailable    ErrorKind = "sdk_unavailable"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindNoDeviceConnected ErrorKind = "no_device_connected"
	KindConnectionLost    ErrorKind = "connection_lost"
	KindBridge            ErrorKind = "bridge_error"
)

// Error represents any failure surfaced by or about the bridge.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare Error values by Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for each kind.
var (
	ErrSdkUnavailable    = &Error{Kind: KindSdkUnavailable}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrNoDeviceConnected = &Error{Kind: KindNoDeviceConnected}
	ErrConnectionLost    = &Error{Kind: KindConnectionLost}
)

// Errorf builds an opaque bridge error from an SDK failure.
func Errorf(format string, args ...any) *Error {
	return &Error{Kind: KindBridge, Msg: fmt.Sprintf(format, args...)}
}

// Normalize maps known stack error strings to structured Error kinds so
// callers get consistent behavior even if the upstream library changes its
// messages slightly. Returns wrapped errors to preserve original context.
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "invalid state"),
		containsIgnoreCase(msg, "no device available"):
		return fmt.Errorf("%w: %v", ErrSdkUnavailable, err)
	case containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNoDeviceConnected, err)
	default:
		return err
	}
}

// IsKind reports whether err is a bridge Error with the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind == kind
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
