// Package goble implements the bridge contract on top of the go-ble
// Bluetooth stack. It is deliberately thin: scanning, dialing, GATT reads
// and measurement subscriptions, nothing more.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/openvitals/vitalink/internal/bridge"
	"github.com/openvitals/vitalink/internal/gatt"
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 30 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		// Wrap Bluetooth state errors with clearer messages.
		if strings.Contains(err.Error(), "central manager has invalid state") {
			if strings.Contains(err.Error(), "have=4") { // StatePoweredOff
				return nil, fmt.Errorf("%w: Bluetooth is turned off", bridge.ErrSdkUnavailable)
			}
			return nil, fmt.Errorf("%w: Bluetooth is not ready: %v", bridge.ErrSdkUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", bridge.ErrSdkUnavailable, err)
	}
	return dev, nil
}

// liveSub records an active measurement subscription; the indication flag
// must be passed back on unsubscribe.
type liveSub struct {
	char       *ble.Characteristic
	indication bool
}

// session holds the per-device connection state the bridge tracks.
type session struct {
	client  ble.Client
	profile *ble.Profile
	live    []liveSub // subscriptions active for a measurement
}

// Bridge is the go-ble backed implementation of bridge.Bridge.
type Bridge struct {
	logger *logrus.Logger

	mu          sync.Mutex
	cb          bridge.Callbacks
	dev         ble.Device
	sessions    map[string]*session
	scanCancel  context.CancelFunc
	initialized bool

	connectTimeout time.Duration
}

// New creates an uninitialized go-ble bridge.
func New(logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		logger:         logger,
		sessions:       make(map[string]*session),
		connectTimeout: DefaultConnectTimeout,
	}
}

// Initialize creates the underlying BLE device and registers callbacks.
// Idempotent.
func (b *Bridge) Initialize(cb bridge.Callbacks) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		b.cb = cb
		return nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return err
	}
	ble.SetDefaultDevice(dev)

	b.dev = dev
	b.cb = cb
	b.initialized = true
	return nil
}

// StartScan begins advertisement discovery. Discovered devices are reported
// through the DeviceFound callback until StopScan.
func (b *Bridge) StartScan() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return bridge.ErrSdkUnavailable
	}
	if b.scanCancel != nil {
		return nil // already scanning
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.scanCancel = cancel

	go func() {
		err := ble.Scan(ctx, true, b.handleAdvertisement, nil)
		if err != nil && ctx.Err() == nil {
			b.emitError("scan failed", bridge.Normalize(err))
		}
	}()
	return nil
}

// StopScan cancels an active scan. Stopping when no scan is running is not
// an error.
func (b *Bridge) StopScan() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.scanCancel != nil {
		b.scanCancel()
		b.scanCancel = nil
	}
	return nil
}

func (b *Bridge) handleAdvertisement(adv ble.Advertisement) {
	services := make([]string, 0, len(adv.Services()))
	for _, uuid := range adv.Services() {
		services = append(services, uuid.String())
	}

	dev := bridge.Device{
		ID:           adv.Addr().String(),
		Name:         adv.LocalName(),
		Battery:      bridge.BatteryUnknown,
		Capabilities: gatt.Capabilities(services),
		RSSI:         adv.RSSI(),
	}

	b.mu.Lock()
	cb := b.cb.DeviceFound
	b.mu.Unlock()
	if cb != nil {
		cb(dev)
	}
}

// Connect dials the device asynchronously. Completion is reported through
// the DeviceConnected callback, failure through the Error callback.
func (b *Bridge) Connect(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return bridge.ErrSdkUnavailable
	}
	if _, ok := b.sessions[id]; ok {
		return bridge.Errorf("device %s already connected", id)
	}

	go b.dial(id)
	return nil
}

func (b *Bridge) dial(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.connectTimeout)
	defer cancel()

	client, err := ble.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		b.emitError(fmt.Sprintf("connect to %s failed", id), bridge.Normalize(err))
		return
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		b.emitError(fmt.Sprintf("profile discovery for %s failed", id), bridge.Normalize(err))
		return
	}

	b.mu.Lock()
	b.sessions[id] = &session{client: client, profile: profile}
	connected := b.cb.DeviceConnected
	b.mu.Unlock()

	// Watch for the link dropping underneath us.
	go func() {
		<-client.Disconnected()
		b.mu.Lock()
		_, tracked := b.sessions[id]
		delete(b.sessions, id)
		disconnected := b.cb.DeviceDisconnected
		b.mu.Unlock()
		if tracked && disconnected != nil {
			disconnected(id)
		}
	}()

	if connected != nil {
		connected(id)
	}
}

// Disconnect drops the connection to id. Unknown devices are a no-op.
func (b *Bridge) Disconnect(id string) error {
	b.mu.Lock()
	sess, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sess.client.CancelConnection(); err != nil {
		return bridge.Errorf("disconnect %s: %v", id, err)
	}
	return nil
}

// ConnectedDevices returns the identifiers of all devices the bridge holds
// a connection to.
func (b *Bridge) ConnectedDevices() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// BatteryLevel reads the standard battery service level characteristic.
func (b *Bridge) BatteryLevel(id string) (int, error) {
	sess, err := b.session(id)
	if err != nil {
		return 0, err
	}

	char, err := findCharacteristic(sess.profile, gatt.ServiceBattery, gatt.CharBatteryLevel)
	if err != nil {
		return 0, err
	}
	resp, err := sess.client.ReadCharacteristic(char)
	if err != nil {
		return 0, bridge.Errorf("read battery level: %v", err)
	}
	if len(resp) == 0 {
		return 0, bridge.Errorf("empty battery level response")
	}
	return int(resp[0]), nil
}

// StartBPMeasurement subscribes to blood pressure measurement indications.
func (b *Bridge) StartBPMeasurement(id string) error {
	return b.subscribe(id, gatt.ServiceBloodPressure, gatt.CharBPMeasurement, bridge.MeasureBP, true)
}

// StartECGMeasurement subscribes to heart rate measurement notifications,
// the ECG stream exposed by the monitors this application supports.
func (b *Bridge) StartECGMeasurement(id string) error {
	return b.subscribe(id, gatt.ServiceHeartRate, gatt.CharHeartRate, bridge.MeasureECG, false)
}

func (b *Bridge) subscribe(id, serviceUUID, charUUID, kind string, indication bool) error {
	sess, err := b.session(id)
	if err != nil {
		return err
	}

	char, err := findCharacteristic(sess.profile, serviceUUID, charUUID)
	if err != nil {
		return err
	}

	handler := func(data []byte) {
		b.mu.Lock()
		cb := b.cb.Measurement
		b.mu.Unlock()
		if cb != nil {
			payload := make([]byte, len(data))
			copy(payload, data)
			cb(id, kind, payload)
		}
	}
	if err := sess.client.Subscribe(char, indication, handler); err != nil {
		return bridge.Errorf("subscribe %s/%s: %v", serviceUUID, charUUID, err)
	}

	b.mu.Lock()
	sess.live = append(sess.live, liveSub{char: char, indication: indication})
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"device": id,
		"kind":   kind,
	}).Info("Measurement started")
	return nil
}

// StopLive unsubscribes all active measurement characteristics for id.
func (b *Bridge) StopLive(id string) error {
	sess, err := b.session(id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	live := sess.live
	sess.live = nil
	b.mu.Unlock()

	var firstErr error
	for _, sub := range live {
		if err := sess.client.Unsubscribe(sub.char, sub.indication); err != nil && firstErr == nil {
			firstErr = bridge.Errorf("unsubscribe %s: %v", sub.char.UUID.String(), err)
		}
	}
	return firstErr
}

func (b *Bridge) session(id string) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[id]
	if !ok {
		return nil, bridge.ErrNoDeviceConnected
	}
	return sess, nil
}

func (b *Bridge) emitError(msg string, err error) {
	b.mu.Lock()
	cb := b.cb.Error
	b.mu.Unlock()
	if cb != nil {
		cb(msg, err)
	} else {
		b.logger.WithError(err).Warn(msg)
	}
}

// findCharacteristic locates a characteristic in a discovered profile by
// normalized service and characteristic UUID.
func findCharacteristic(profile *ble.Profile, serviceUUID, charUUID string) (*ble.Characteristic, error) {
	for _, svc := range profile.Services {
		if gatt.NormalizeUUID(svc.UUID.String()) != serviceUUID {
			continue
		}
		for _, char := range svc.Characteristics {
			if gatt.NormalizeUUID(char.UUID.String()) == charUUID {
				return char, nil
			}
		}
	}
	return nil, bridge.Errorf("characteristic %s/%s not found", serviceUUID, charUUID)
}
