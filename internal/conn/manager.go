// Package conn implements the device connection manager: the single
// authority for the Bluetooth device lifecycle visible to the rest of the
// application. It owns the known-device set, the at-most-one connected
// session, the periodic health check, and the persisted reconnection hint.
package conn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/openvitals/vitalink/internal/bridge"
	"github.com/openvitals/vitalink/internal/hint"
	"github.com/openvitals/vitalink/internal/ring"
)

// EventType marks what changed in the manager's observable state.
type EventType int

const (
	EventDeviceFound EventType = iota
	EventDeviceUpdated
	EventConnected
	EventDisconnected
	EventBattery
	EventRadioChanged
	EventError
	EventMeasurement
)

// Event is published on the manager's event channel for every observable
// state change.
type Event struct {
	Type     EventType
	DeviceID string
	Battery  int
	Enabled  bool
	Kind     string
	Payload  []byte
	Err      error
}

// Options configures manager timing behavior.
type Options struct {
	// HealthCheckInterval is how often the connected device is probed for
	// silent disconnects.
	HealthCheckInterval time.Duration
	// ReconnectScanTimeout bounds the startup scan that looks for the
	// hinted device.
	ReconnectScanTimeout time.Duration
	// EventBuffer is the capacity of the event ring channel.
	EventBuffer int
}

// DefaultOptions returns the default manager timing values.
func DefaultOptions() Options {
	return Options{
		HealthCheckInterval:  10 * time.Second,
		ReconnectScanTimeout: 3 * time.Second,
		EventBuffer:          100,
	}
}

// Manager is the device connection manager. All bridge callbacks and
// operations serialize their mutations behind a single mutex so the
// connected device and the known set can never disagree.
type Manager struct {
	br     bridge.Bridge
	hints  hint.Store
	logger *logrus.Logger
	opts   Options

	mu           sync.Mutex
	devices      *hashmap.Map[string, *bridge.Device]
	connectedID  string
	connectingID string
	scanning     bool
	initialized  bool
	radioEnabled bool
	lastErr      error

	healthCancel context.CancelFunc

	events *ring.Channel[Event]
}

// NewManager creates a manager over the given bridge and hint store.
func NewManager(br bridge.Bridge, hints hint.Store, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultOptions().HealthCheckInterval
	}
	if opts.ReconnectScanTimeout <= 0 {
		opts.ReconnectScanTimeout = DefaultOptions().ReconnectScanTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	return &Manager{
		br:      br,
		hints:   hints,
		logger:  logger,
		opts:    opts,
		devices: hashmap.New[string, *bridge.Device](),
		events:  ring.New[Event](opts.EventBuffer),
	}
}

// Events returns the manager's event channel. Events are dropped oldest
// first if the consumer falls behind.
func (m *Manager) Events() <-chan Event {
	return m.events.C()
}

// Snapshot is a copy of the manager's observable state.
type Snapshot struct {
	Initialized  bool            `json:"initialized"`
	RadioEnabled bool            `json:"radio_enabled"`
	Scanning     bool            `json:"scanning"`
	ConnectingID string          `json:"connecting_id,omitempty"`
	ConnectedID  string          `json:"connected_id,omitempty"`
	Devices      []bridge.Device `json:"devices"`
	LastError    string          `json:"last_error,omitempty"`
}

// Snapshot returns a copy of the current observable state. Devices are
// sorted by identifier for consistent ordering.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Initialized:  m.initialized,
		RadioEnabled: m.radioEnabled,
		Scanning:     m.scanning,
		ConnectingID: m.connectingID,
		ConnectedID:  m.connectedID,
	}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
	}
	snap.Devices = make([]bridge.Device, 0, m.devices.Len())
	m.devices.Range(func(_ string, dev *bridge.Device) bool {
		snap.Devices = append(snap.Devices, *dev)
		return true
	})
	sort.Slice(snap.Devices, func(i, j int) bool {
		return snap.Devices[i].ID < snap.Devices[j].ID
	})
	return snap
}

// Device returns a copy of the known-set entry for id.
func (m *Manager) Device(id string) (bridge.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devices.Get(id)
	if !ok {
		return bridge.Device{}, false
	}
	return *dev, true
}

// Initialize registers callback handlers with the bridge. It is idempotent
// and fails with bridge.ErrSdkUnavailable when no Bluetooth stack is
// available on this platform.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.initialized {
		return nil
	}

	err := m.br.Initialize(bridge.Callbacks{
		DeviceFound:        m.onDeviceFound,
		DeviceConnected:    m.onDeviceConnected,
		DeviceDisconnected: m.onDeviceDisconnected,
		BatteryUpdate:      m.onBatteryUpdate,
		RadioStatusChanged: m.onRadioStatusChanged,
		Error:              m.onBridgeError,
		Measurement:        m.onMeasurement,
	})
	if err != nil {
		err = bridge.Normalize(err)
		m.lastErr = err
		return err
	}

	m.initialized = true
	m.radioEnabled = true
	m.logger.Info("Connection manager initialized")
	return nil
}

// StartScan clears the previously discovered set and begins discovery.
// A fresh scan invalidates stale entries; the connected device, if any,
// survives the reset.
func (m *Manager) StartScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initializeLocked(); err != nil {
		return err
	}

	m.resetDevicesLocked()

	if err := m.br.StartScan(); err != nil {
		err = bridge.Normalize(err)
		m.scanning = false
		m.lastErr = err
		return err
	}
	m.scanning = true
	m.logger.Info("Scan started")
	return nil
}

// StopScan stops discovery. The scanning flag is cleared even when the
// bridge reports an error.
func (m *Manager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.br.StopScan()
	m.scanning = false
	if err != nil {
		err = bridge.Normalize(err)
		m.lastErr = err
		return err
	}
	m.logger.Info("Scan stopped")
	return nil
}

// Connect begins connecting to the device with the given identifier. State
// is only committed when the bridge reports the connection established; an
// immediate bridge failure clears the connecting flag and leaves the
// session untouched.
func (m *Manager) Connect(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initializeLocked(); err != nil {
		return err
	}

	if m.connectedID == id {
		return nil
	}
	// At most one session: an existing connection is torn down before the
	// new dial.
	if m.connectedID != "" {
		prev := m.connectedID
		if err := m.br.Disconnect(prev); err != nil {
			m.logger.WithError(err).Warn("Bridge disconnect failed")
		}
		m.teardownLocked(prev, nil)
		m.logger.WithField("device", prev).Info("Disconnected")
	}

	m.connectingID = id
	if err := m.br.Connect(id); err != nil {
		err = bridge.Normalize(err)
		m.connectingID = ""
		m.lastErr = err
		return err
	}
	m.logger.WithField("device", id).Info("Connecting")
	return nil
}

// Disconnect tears down the active session: clears the connected device and
// the persisted hint, and marks the known-set entry disconnected. It is a
// no-op when nothing is connected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectedID == "" {
		return nil
	}

	id := m.connectedID
	if err := m.br.Disconnect(id); err != nil {
		m.logger.WithError(err).Warn("Bridge disconnect failed")
	}
	m.teardownLocked(id, nil)
	m.logger.WithField("device", id).Info("Disconnected")
	return nil
}

// StartBPMeasurement starts a blood pressure measurement on the connected
// device.
func (m *Manager) StartBPMeasurement() error {
	return m.withConnected(func(id string) error { return m.br.StartBPMeasurement(id) })
}

// StartECGMeasurement starts an ECG measurement on the connected device.
func (m *Manager) StartECGMeasurement() error {
	return m.withConnected(func(id string) error { return m.br.StartECGMeasurement(id) })
}

// StopMeasurement stops any live measurement on the connected device.
func (m *Manager) StopMeasurement() error {
	return m.withConnected(func(id string) error { return m.br.StopLive(id) })
}

// withConnected runs op against the connected device, failing with
// bridge.ErrNoDeviceConnected when there is no active session. Bridge
// failures are surfaced to the caller unmasked.
func (m *Manager) withConnected(op func(id string) error) error {
	m.mu.Lock()
	id := m.connectedID
	m.mu.Unlock()

	if id == "" {
		return bridge.ErrNoDeviceConnected
	}
	return op(id)
}

// AutoReconnect runs the startup reconnection sequence: adopt a device the
// bridge still reports connected, otherwise scan briefly for the hinted
// identifier, then fall back to one direct connect attempt. All failures
// are swallowed; the session is simply left disconnected.
func (m *Manager) AutoReconnect(ctx context.Context) {
	if err := m.Initialize(); err != nil {
		m.logger.WithError(err).Debug("Auto-reconnect: initialize failed")
		return
	}

	hinted, ok, err := m.hints.Load()
	if err != nil {
		m.logger.WithError(err).Warn("Auto-reconnect: hint load failed")
		return
	}
	if !ok {
		return
	}
	log := m.logger.WithField("device", hinted)

	// The bridge may still hold the connection from a previous run.
	if connected, err := m.br.ConnectedDevices(); err == nil {
		for _, id := range connected {
			if id == hinted {
				log.Info("Auto-reconnect: adopting still-connected device")
				m.adopt(id)
				return
			}
		}
	}

	found := m.scanForDevice(ctx, hinted)

	// A user action while we were scanning wins over the reconnect.
	m.mu.Lock()
	busy := m.connectedID != "" || m.connectingID != ""
	m.mu.Unlock()
	if busy {
		log.Debug("Auto-reconnect: aborted, session state changed")
		return
	}

	if found {
		if err := m.Connect(hinted); err != nil {
			log.WithError(err).Debug("Auto-reconnect: connect to discovered device failed")
		}
		return
	}

	// Not discovered within the window; try one direct connect by
	// identifier.
	if err := m.Connect(hinted); err != nil {
		log.WithError(err).Debug("Auto-reconnect: direct connect failed")
	}
}

// scanForDevice runs a bounded scan looking for id among discovered
// devices. Returns true as soon as the device shows up.
func (m *Manager) scanForDevice(ctx context.Context, id string) bool {
	if err := m.StartScan(); err != nil {
		return false
	}
	defer func() {
		if err := m.StopScan(); err != nil {
			m.logger.WithError(err).Debug("Auto-reconnect: stop scan failed")
		}
	}()

	deadline := time.NewTimer(m.opts.ReconnectScanTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
			if _, ok := m.Device(id); ok {
				return true
			}
		}
	}
}

// adopt commits a session for a device the bridge already reports
// connected, bypassing the connect handshake.
func (m *Manager) adopt(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitSessionLocked(id)
}

// Close cancels the health check and closes the event channel. The manager
// must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.healthCancel != nil {
		m.healthCancel()
		m.healthCancel = nil
	}
	m.mu.Unlock()
	m.events.Close()
}

// ----------------------------
// Bridge callbacks
// ----------------------------

func (m *Manager) onDeviceFound(dev bridge.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.devices.Get(dev.ID)
	if !ok {
		if dev.Battery == 0 {
			dev.Battery = bridge.BatteryUnknown
		}
		d := dev
		m.devices.Set(dev.ID, &d)
		m.logger.WithFields(logrus.Fields{
			"device":  d.DisplayName(),
			"address": d.ID,
			"rssi":    d.RSSI,
		}).Info("Discovered new device")
		m.events.Send(Event{Type: EventDeviceFound, DeviceID: dev.ID})
		return
	}

	// Update in place; never let a stale advertisement erase a name or
	// flip the connected flag.
	if dev.Name != "" {
		existing.Name = dev.Name
	}
	existing.RSSI = dev.RSSI
	if len(dev.Capabilities) > 0 {
		existing.Capabilities = dev.Capabilities
	}
	m.events.Send(Event{Type: EventDeviceUpdated, DeviceID: dev.ID})
}

func (m *Manager) onDeviceConnected(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectedID == id {
		return
	}
	m.commitSessionLocked(id)
}

// commitSessionLocked establishes the session for id: the known-set entry
// is created if the device was never discovered (direct connect by
// identifier), the hint is persisted, and the health check starts.
func (m *Manager) commitSessionLocked(id string) {
	// A bridge-reported connect for a different device supersedes the
	// current session; the set and the session must never disagree.
	if m.connectedID != "" && m.connectedID != id {
		m.teardownLocked(m.connectedID, nil)
	}

	dev, ok := m.devices.Get(id)
	if !ok {
		dev = &bridge.Device{ID: id, Battery: bridge.BatteryUnknown}
		m.devices.Set(id, dev)
	}
	dev.Connected = true

	m.connectedID = id
	m.connectingID = ""
	if m.scanning {
		if err := m.br.StopScan(); err != nil {
			m.logger.WithError(err).Debug("Stop scan after connect failed")
		}
		m.scanning = false
	}
	m.lastErr = nil

	if err := m.hints.Save(id); err != nil {
		m.logger.WithError(err).Warn("Failed to persist reconnection hint")
	}

	m.startHealthCheckLocked(id)
	m.logger.WithField("device", dev.DisplayName()).Info("Device connected")
	m.events.Send(Event{Type: EventConnected, DeviceID: id})
}

func (m *Manager) onDeviceDisconnected(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectedID != id {
		// Late notification for a device the user already dropped.
		if dev, ok := m.devices.Get(id); ok {
			dev.Connected = false
		}
		return
	}
	m.teardownLocked(id, nil)
	m.logger.WithField("device", id).Info("Device disconnected by bridge")
}

func (m *Manager) onBatteryUpdate(id string, level int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devices.Get(id)
	if !ok {
		return
	}
	dev.Battery = level
	m.events.Send(Event{Type: EventBattery, DeviceID: id, Battery: level})
}

func (m *Manager) onRadioStatusChanged(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.radioEnabled = enabled
	if !enabled {
		if m.connectedID != "" {
			m.teardownLocked(m.connectedID, bridge.ErrConnectionLost)
		}
		m.connectingID = ""
		m.scanning = false
		m.devices = hashmap.New[string, *bridge.Device]()
		m.logger.Warn("Bluetooth radio disabled, known devices cleared")
	}
	m.events.Send(Event{Type: EventRadioChanged, Enabled: enabled})
}

func (m *Manager) onBridgeError(msg string, details error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := details
	if err == nil {
		err = bridge.Errorf("%s", msg)
	}
	m.lastErr = err

	// A connect in flight that errors out never mutates the session.
	if m.connectingID != "" {
		m.logger.WithError(err).WithField("device", m.connectingID).Warn("Connect failed")
		m.connectingID = ""
	} else {
		m.logger.WithError(err).Warn("Bridge error")
	}
	m.events.Send(Event{Type: EventError, Err: err})
}

func (m *Manager) onMeasurement(id, kind string, payload []byte) {
	m.events.Send(Event{Type: EventMeasurement, DeviceID: id, Kind: kind, Payload: payload})
}

// ----------------------------
// Session teardown and health check
// ----------------------------

// teardownLocked ends the session for id: the connected device is cleared,
// the hint removed, the known-set entry marked disconnected, and the health
// check cancelled. reason, if non-nil, becomes the observable last error.
func (m *Manager) teardownLocked(id string, reason error) {
	if m.healthCancel != nil {
		m.healthCancel()
		m.healthCancel = nil
	}

	m.connectedID = ""
	m.connectingID = ""
	if reason != nil {
		m.lastErr = reason
	}

	if dev, ok := m.devices.Get(id); ok {
		dev.Connected = false
	}

	if err := m.hints.Clear(); err != nil {
		m.logger.WithError(err).Warn("Failed to clear reconnection hint")
	}

	m.events.Send(Event{Type: EventDisconnected, DeviceID: id, Err: reason})
}

// startHealthCheckLocked starts the periodic probe for silent disconnects.
// The ticker is tied to the session: any teardown cancels it before state
// can be mutated again.
func (m *Manager) startHealthCheckLocked(id string) {
	if m.healthCancel != nil {
		m.healthCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.healthCancel = cancel

	go m.healthCheckLoop(ctx, id)
}

func (m *Manager) healthCheckLoop(ctx context.Context, id string) {
	ticker := time.NewTicker(m.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.probe(id) {
				m.connectionLost(id)
				return
			}
		}
	}
}

// probe verifies the bridge still reports id connected and answers a
// lightweight battery query. Bridge calls run outside the manager lock.
func (m *Manager) probe(id string) bool {
	connected, err := m.br.ConnectedDevices()
	if err != nil {
		m.logger.WithError(err).Debug("Health check: connected devices query failed")
		return false
	}
	present := false
	for _, c := range connected {
		if c == id {
			present = true
			break
		}
	}
	if !present {
		return false
	}

	level, err := m.br.BatteryLevel(id)
	if err != nil {
		m.logger.WithError(err).Debug("Health check: battery probe failed")
		return false
	}
	m.onBatteryUpdate(id, level)
	return true
}

// connectionLost is the health check's unilateral teardown for silent
// drops the bridge never reported.
func (m *Manager) connectionLost(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectedID != id {
		return
	}
	m.teardownLocked(id, bridge.ErrConnectionLost)
	m.logger.WithField("device", id).Warn("Connection lost")
}

// resetDevicesLocked replaces the known set with a fresh one, carrying over
// only the connected device so the set and the session never disagree.
func (m *Manager) resetDevicesLocked() {
	fresh := hashmap.New[string, *bridge.Device]()
	if m.connectedID != "" {
		if dev, ok := m.devices.Get(m.connectedID); ok {
			fresh.Set(m.connectedID, dev)
		}
	}
	m.devices = fresh
}
