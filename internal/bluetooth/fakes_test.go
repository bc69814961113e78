package bluetooth

import (
	"context"
	"fmt"
	"sync"

	"github.com/airmouse/gearvr-bridge/internal/events"
	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// fakeAdapter replays scripted advertisements and hands out fake
// peripherals, optionally failing the first N connect attempts.
type fakeAdapter struct {
	mu             sync.Mutex
	advertisements []Advertisement
	peripheral     *fakePeripheral
	connectFails   int
	connectCalls   int
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) Scan(ctx context.Context, found func(Advertisement)) error {
	for _, adv := range a.advertisements {
		found(adv)
	}
	<-ctx.Done()
	return nil
}

func (a *fakeAdapter) StopScan() error { return nil }

func (a *fakeAdapter) Connect(id string) (Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCalls++
	if a.connectFails > 0 {
		a.connectFails--
		return nil, fmt.Errorf("radio busy")
	}
	if a.peripheral == nil {
		return nil, fmt.Errorf("no such device %s", id)
	}
	a.peripheral.id = id
	return a.peripheral, nil
}

func (a *fakeAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls
}

type fakePeripheral struct {
	id   string
	name string

	services map[string]*fakeService

	mu     sync.Mutex
	events []string // pair, unpair, disconnect in call order
}

func (p *fakePeripheral) ID() string   { return p.id }
func (p *fakePeripheral) Name() string { return p.name }

func (p *fakePeripheral) record(ev string) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *fakePeripheral) Pair() error   { p.record("pair"); return nil }
func (p *fakePeripheral) Unpair() error { p.record("unpair"); return nil }

func (p *fakePeripheral) Disconnect() error {
	p.record("disconnect")
	return nil
}

func (p *fakePeripheral) DiscoverService(uuid string) (Service, error) {
	svc, ok := p.services[uuid]
	if !ok {
		return nil, fmt.Errorf("service %s not present", uuid)
	}
	return svc, nil
}

type fakeService struct {
	chars map[string]*fakeChar
}

func (s *fakeService) Characteristic(uuid string) (Characteristic, error) {
	c, ok := s.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not present", uuid)
	}
	return c, nil
}

type fakeChar struct {
	mu      sync.Mutex
	handler func([]byte)
	writes  [][]byte
	value   []byte

	onEvent func(string) // optional shared order log
}

func (c *fakeChar) Subscribe(handler func(buf []byte)) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	if c.onEvent != nil {
		c.onEvent("subscribe")
	}
	return nil
}

func (c *fakeChar) Unsubscribe() error {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	if c.onEvent != nil {
		c.onEvent("unsubscribe")
	}
	return nil
}

func (c *fakeChar) Write(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.mu.Lock()
	c.writes = append(c.writes, buf)
	c.mu.Unlock()
	return nil
}

func (c *fakeChar) Read() ([]byte, error) {
	return c.value, nil
}

// notify delivers a frame as if the device had pushed a notification.
func (c *fakeChar) notify(buf []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(buf)
	}
}

func (c *fakeChar) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// controllerPeripheral builds a fake exposing the controller's GATT layout.
func controllerPeripheral(name string, battery byte) (*fakePeripheral, *fakeChar, *fakeChar) {
	notify := &fakeChar{}
	write := &fakeChar{}
	return &fakePeripheral{
		name: name,
		services: map[string]*fakeService{
			ControllerServiceUUID: {chars: map[string]*fakeChar{
				NotifyCharUUID: notify,
				WriteCharUUID:  write,
			}},
			BatteryServiceUUID: {chars: map[string]*fakeChar{
				BatteryLevelCharUUID: {value: []byte{battery}},
			}},
		},
	}, notify, write
}

// collectingSink retains device records for assertions.
type collectingSink struct {
	mu      sync.Mutex
	devices []events.DeviceRecord
}

func (s *collectingSink) State(fusion.ControllerState) {}

func (s *collectingSink) DeviceFound(d events.DeviceRecord) {
	s.mu.Lock()
	s.devices = append(s.devices, d)
	s.mu.Unlock()
}

func (s *collectingSink) CalibrationStep(string)           {}
func (s *collectingSink) CalibrationFinished(string, bool) {}

func (s *collectingSink) found() []events.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.DeviceRecord, len(s.devices))
	copy(out, s.devices)
	return out
}
