package bluetooth

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// ConnectedDeviceState is a snapshot of the current link.
type ConnectedDeviceState struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Connected    bool      `json:"connected"`
	VrMode       bool      `json:"vr_mode"`
	ConnectedAt  time.Time `json:"connected_at,omitempty"`
	BatteryLevel uint8     `json:"battery_level"`
}

// Manager owns the controller link end to end: connect with bounded retry,
// GATT discovery, the notification pipeline, the init command sequence and
// the keep-alive task.
type Manager struct {
	adapter  Adapter
	scanner  *Scanner
	engine   *fusion.Engine
	pipeline *Pipeline
	forward  StateHandler

	// VrMode selects the VR reporting mode during initialization.
	VrMode bool

	retryDelay time.Duration

	mu              sync.Mutex
	peripheral      Peripheral
	executor        *Executor
	batteryChar     Characteristic
	keepAliveCancel context.CancelFunc
	state           ConnectedDeviceState
	lastID          string
}

// NewManager wires a manager to its collaborators. forward receives every
// fused state the pipeline emits.
func NewManager(adapter Adapter, scanner *Scanner, engine *fusion.Engine, forward StateHandler) *Manager {
	return &Manager{
		adapter:    adapter,
		scanner:    scanner,
		engine:     engine,
		pipeline:   NewPipeline(engine),
		forward:    forward,
		retryDelay: RetryDelay,
	}
}

// Connect links to a device previously reported by the scanner. An unknown
// ID fails with ErrDeviceNotFound before any radio traffic.
func (m *Manager) Connect(ctx context.Context, deviceID string) error {
	if _, ok := m.scanner.Lookup(deviceID); !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return m.connect(ctx, deviceID)
}

// Reconnect re-establishes the last link without a fresh scan.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	id := m.lastID
	m.mu.Unlock()
	if id == "" {
		return ErrDeviceNotFound
	}
	return m.connect(ctx, id)
}

func (m *Manager) connect(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	connected := m.peripheral != nil
	m.mu.Unlock()
	if connected {
		return fmt.Errorf("bluetooth: already connected, disconnect first")
	}

	peripheral, err := m.dial(ctx, deviceID)
	if err != nil {
		return err
	}

	if err := peripheral.Pair(); err != nil {
		peripheral.Disconnect()
		return fmt.Errorf("pair %s: %w", deviceID, err)
	}

	svc, err := peripheral.DiscoverService(ControllerServiceUUID)
	if err != nil {
		peripheral.Disconnect()
		return err
	}
	notify, err := svc.Characteristic(NotifyCharUUID)
	if err != nil {
		peripheral.Disconnect()
		return err
	}
	write, err := svc.Characteristic(WriteCharUUID)
	if err != nil {
		peripheral.Disconnect()
		return err
	}

	// Battery is standard GATT and optional; a controller that does not
	// expose it still works.
	var battery Characteristic
	if batterySvc, err := peripheral.DiscoverService(BatteryServiceUUID); err == nil {
		if battery, err = batterySvc.Characteristic(BatteryLevelCharUUID); err != nil {
			log.Warnf("bluetooth: battery characteristic: %v", err)
		}
	} else {
		log.Warnf("bluetooth: battery service: %v", err)
	}

	if err := m.pipeline.Start(notify, m.forward); err != nil {
		peripheral.Disconnect()
		return fmt.Errorf("start pipeline: %w", err)
	}

	executor := NewExecutor(write)
	if err := executor.Initialize(m.VrMode); err != nil {
		m.pipeline.Stop()
		peripheral.Disconnect()
		return err
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	executor.StartKeepAlive(kaCtx, KeepAliveInterval)

	m.mu.Lock()
	m.peripheral = peripheral
	m.executor = executor
	m.batteryChar = battery
	m.keepAliveCancel = kaCancel
	m.lastID = deviceID
	m.state = ConnectedDeviceState{
		ID:          deviceID,
		Name:        peripheral.Name(),
		Connected:   true,
		VrMode:      m.VrMode,
		ConnectedAt: time.Now(),
	}
	m.mu.Unlock()

	log.Infof("bluetooth: connected to %q at %s", peripheral.Name(), deviceID)

	if battery != nil {
		if level, err := m.BatteryLevel(); err == nil {
			log.Infof("bluetooth: battery at %d%%", level)
		} else {
			log.Warnf("bluetooth: battery read: %v", err)
		}
	}
	return nil
}

// dial attempts the link up to MaxConnectRetries times, waiting RetryDelay
// between attempts.
func (m *Manager) dial(ctx context.Context, deviceID string) (Peripheral, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxConnectRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		peripheral, err := m.adapter.Connect(deviceID)
		if err == nil {
			return peripheral, nil
		}
		lastErr = err
		log.Warnf("bluetooth: connect attempt %d/%d: %v", attempt, MaxConnectRetries, err)

		if attempt < MaxConnectRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connect %s after %d attempts: %w", deviceID, MaxConnectRetries, lastErr)
}

// Disconnect tears the link down: the pipeline stops before the transport
// goes away so the worker never races a dead characteristic. Unpair
// failures are logged, not fatal.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	peripheral := m.peripheral
	kaCancel := m.keepAliveCancel
	m.peripheral = nil
	m.executor = nil
	m.batteryChar = nil
	m.keepAliveCancel = nil
	m.state = ConnectedDeviceState{ID: m.state.ID, Name: m.state.Name}
	m.mu.Unlock()

	if peripheral == nil {
		return ErrNotConnected
	}
	if kaCancel != nil {
		kaCancel()
	}
	m.pipeline.Stop()

	if err := peripheral.Unpair(); err != nil {
		log.Warnf("bluetooth: unpair: %v", err)
	}
	if err := peripheral.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	log.Infof("bluetooth: disconnected from %s", peripheral.ID())
	return nil
}

// TurnOff powers the controller down and releases the link.
func (m *Manager) TurnOff() error {
	m.mu.Lock()
	executor := m.executor
	m.mu.Unlock()
	if executor == nil {
		return ErrNotConnected
	}
	if err := executor.TurnOff(); err != nil {
		return err
	}
	return m.Disconnect()
}

// Calibrate triggers the controller's internal calibration.
func (m *Manager) Calibrate() error {
	m.mu.Lock()
	executor := m.executor
	m.mu.Unlock()
	if executor == nil {
		return ErrNotConnected
	}
	return executor.Calibrate()
}

// Send writes an arbitrary control command.
func (m *Manager) Send(cmd protocol.Command) error {
	m.mu.Lock()
	executor := m.executor
	m.mu.Unlock()
	if executor == nil {
		return ErrNotConnected
	}
	return executor.Send(cmd)
}

// BatteryLevel reads the battery characteristic and records the level on
// the fusion engine so subsequent states carry it.
func (m *Manager) BatteryLevel() (uint8, error) {
	m.mu.Lock()
	char := m.batteryChar
	m.mu.Unlock()
	if char == nil {
		return 0, ErrNotConnected
	}

	buf, err := char.Read()
	if err != nil {
		return 0, fmt.Errorf("read battery: %w", err)
	}
	if len(buf) == 0 {
		return 0, fmt.Errorf("read battery: empty value")
	}

	level := buf[0]
	m.engine.SetBatteryLevel(level)
	m.mu.Lock()
	m.state.BatteryLevel = level
	m.mu.Unlock()
	return level, nil
}

// DeviceState returns a copy of the current link snapshot.
func (m *Manager) DeviceState() ConnectedDeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
