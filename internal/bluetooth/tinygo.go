package bluetooth

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	ble "tinygo.org/x/bluetooth"
)

// tinygoAdapter implements Adapter on top of tinygo.org/x/bluetooth, which
// talks to BlueZ over D-Bus on Linux and the native stacks elsewhere.
type tinygoAdapter struct {
	adapter *ble.Adapter

	mu    sync.Mutex
	seen  map[string]ble.Address
	names map[string]string
}

// NewAdapter returns the platform BLE adapter.
func NewAdapter() Adapter {
	return &tinygoAdapter{
		adapter: ble.DefaultAdapter,
		seen:    make(map[string]ble.Address),
		names:   make(map[string]string),
	}
}

func (a *tinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	return nil
}

func (a *tinygoAdapter) Scan(ctx context.Context, found func(Advertisement)) error {
	// ble.Adapter.Scan blocks until StopScan; bridge ctx to it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				log.Debugf("bluetooth: stop scan: %v", err)
			}
		case <-stop:
		}
	}()

	return a.adapter.Scan(func(_ *ble.Adapter, result ble.ScanResult) {
		id := result.Address.String()
		a.mu.Lock()
		a.seen[id] = result.Address
		if name := result.LocalName(); name != "" {
			a.names[id] = name
		}
		name := a.names[id]
		a.mu.Unlock()

		found(Advertisement{ID: id, Name: name, RSSI: result.RSSI})
	})
}

func (a *tinygoAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *tinygoAdapter) Connect(id string) (Peripheral, error) {
	a.mu.Lock()
	addr, ok := a.seen[id]
	name := a.names[id]
	a.mu.Unlock()

	if !ok {
		// Not seen this session; the ID is a MAC on the platforms we
		// target, so reconstruct the address for a direct connect.
		mac, err := ble.ParseMAC(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		addr = ble.Address{MACAddress: ble.MACAddress{MAC: mac}}
	}

	dev, err := a.adapter.Connect(addr, ble.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}
	return &tinygoPeripheral{dev: dev, id: id, name: name}, nil
}

type tinygoPeripheral struct {
	dev  ble.Device
	id   string
	name string
}

func (p *tinygoPeripheral) ID() string   { return p.id }
func (p *tinygoPeripheral) Name() string { return p.name }

func (p *tinygoPeripheral) Disconnect() error {
	return p.dev.Disconnect()
}

// Pair is a no-op: BlueZ bonds implicitly on the first encrypted
// characteristic access, and the controller does not require bonding for
// its custom service.
func (p *tinygoPeripheral) Pair() error {
	log.Debugf("bluetooth: pair %s handled by platform", p.id)
	return nil
}

func (p *tinygoPeripheral) Unpair() error {
	log.Debugf("bluetooth: unpair %s handled by platform", p.id)
	return nil
}

func (p *tinygoPeripheral) DiscoverService(uuid string) (Service, error) {
	u, err := ble.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid %s: %w", uuid, err)
	}
	svcs, err := p.dev.DiscoverServices([]ble.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("discover service %s: %w", uuid, err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("service %s not present", uuid)
	}
	return &tinygoService{svc: svcs[0]}, nil
}

type tinygoService struct {
	svc ble.DeviceService
}

func (s *tinygoService) Characteristic(uuid string) (Characteristic, error) {
	u, err := ble.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid %s: %w", uuid, err)
	}
	chars, err := s.svc.DiscoverCharacteristics([]ble.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("discover characteristic %s: %w", uuid, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not present", uuid)
	}
	return &tinygoCharacteristic{char: chars[0]}, nil
}

type tinygoCharacteristic struct {
	char ble.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Subscribe(handler func(buf []byte)) error {
	return c.char.EnableNotifications(handler)
}

func (c *tinygoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinygoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 64)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
