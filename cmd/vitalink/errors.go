package main

import (
	"errors"

	"github.com/openvitals/vitalink/internal/bridge"
)

// FormatUserError converts internal errors into messages suitable for the
// terminal, stripping wrapped implementation detail where a plain sentence
// serves better.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, bridge.ErrSdkUnavailable):
		return "Bluetooth is not available on this system - check that the radio is enabled"
	case errors.Is(err, bridge.ErrPermissionDenied):
		return "Bluetooth permission denied - grant access and retry"
	case errors.Is(err, bridge.ErrNoDeviceConnected):
		return "no device connected - run 'vitalink connect <id>' first"
	case errors.Is(err, bridge.ErrConnectionLost):
		return "connection to the device was lost"
	default:
		return err.Error()
	}
}
