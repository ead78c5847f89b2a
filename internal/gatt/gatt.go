// Package gatt carries the GATT service and characteristic identifiers for
// the vital-sign monitors this application understands, plus UUID
// normalization helpers shared by the bridge and the connection manager.
package gatt

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Standard 16-bit service identifiers, normalized form.
const (
	ServiceBloodPressure = "1810"
	ServiceHeartRate     = "180d"
	ServicePulseOximeter = "1822"
	ServiceGlucose       = "1808"
	ServiceBattery       = "180f"
	ServiceDeviceInfo    = "180a"
)

// Measurement characteristic identifiers, normalized form.
const (
	CharBPMeasurement      = "2a35"
	CharHeartRate          = "2a37"
	CharPLXContinuous      = "2a5f"
	CharGlucoseMeasurement = "2a18"
	CharBatteryLevel       = "2a19"
)

// Capability tags derived from advertised services.
const (
	CapBP      = "supports-bp"
	CapECG     = "supports-ecg"
	CapSpO2    = "supports-spo2"
	CapGlucose = "supports-glucose"
)

// sigBaseSuffix is the tail of the Bluetooth SIG 128-bit base UUID; short
// identifiers are embedded as 0000xxxx-<base>.
const sigBaseSuffix = "00001000800000805f9b34fb"

type serviceInfo struct {
	name       string
	capability string
}

// services maps normalized service UUIDs to their names and capability
// tags. Ordered so listings and derived capability slices are
// deterministic.
var services = func() *orderedmap.OrderedMap[string, serviceInfo] {
	m := orderedmap.New[string, serviceInfo]()
	m.Set(ServiceBloodPressure, serviceInfo{name: "Blood Pressure", capability: CapBP})
	m.Set(ServiceHeartRate, serviceInfo{name: "Heart Rate", capability: CapECG})
	m.Set(ServicePulseOximeter, serviceInfo{name: "Pulse Oximeter", capability: CapSpO2})
	m.Set(ServiceGlucose, serviceInfo{name: "Glucose", capability: CapGlucose})
	m.Set(ServiceBattery, serviceInfo{name: "Battery", capability: ""})
	m.Set(ServiceDeviceInfo, serviceInfo{name: "Device Information", capability: ""})
	return m
}()

// NormalizeUUID converts a UUID string to its internal format: lowercase,
// no dashes, no 0x prefix. Full 128-bit UUIDs in the Bluetooth SIG base
// form are reduced to their 16-bit short identifier.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// ValidateUUID validates that UUID strings are non-empty and well-formed,
// returning their normalized forms.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}
	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ServiceName returns the known name for a service UUID, or "" when the
// service is not one this application understands.
func ServiceName(uuid string) string {
	info, ok := services.Get(NormalizeUUID(uuid))
	if !ok {
		return ""
	}
	return info.name
}

// Capabilities derives capability tags from a set of advertised service
// UUIDs. The result order follows the registry, not the input.
func Capabilities(advertised []string) []string {
	seen := make(map[string]bool, len(advertised))
	for _, uuid := range advertised {
		seen[NormalizeUUID(uuid)] = true
	}

	var caps []string
	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.capability != "" && seen[pair.Key] {
			caps = append(caps, pair.Value.capability)
		}
	}
	return caps
}

// KnownServices returns the normalized UUIDs of all registered services in
// registry order.
func KnownServices() []string {
	uuids := make([]string, 0, services.Len())
	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		uuids = append(uuids, pair.Key)
	}
	return uuids
}
