package bluetooth

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func sensorFrame(ts uint32) []byte {
	buf := make([]byte, protocol.MinSensorPacketLen)
	buf[0] = byte(ts)
	buf[1] = byte(ts >> 8)
	buf[2] = byte(ts >> 16)
	buf[3] = byte(ts >> 24)
	return buf
}

func TestScannerFiltersByNameAndRSSI(t *testing.T) {
	adapter := &fakeAdapter{advertisements: []Advertisement{
		{ID: "aa", Name: "Gear VR Controller(1C2B)", RSSI: -50},
		{ID: "bb", Name: "Fitness Tracker", RSSI: -40},
		{ID: "cc", Name: "Gear VR Controller(99FF)", RSSI: -90},
	}}
	sink := &collectingSink{}
	s := NewScanner(adapter, sink)
	s.MinRSSI = -80

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	waitFor(t, func() bool { return len(sink.found()) >= 1 }, "no devices reported")
	s.Stop()

	devices := sink.found()
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1: %+v", len(devices), devices)
	}
	if devices[0].ID != "aa" {
		t.Errorf("reported device %q, want aa", devices[0].ID)
	}
	if _, ok := s.Lookup("aa"); !ok {
		t.Error("matching device not recorded")
	}
	if _, ok := s.Lookup("bb"); ok {
		t.Error("non-controller recorded")
	}
	if _, ok := s.Lookup("cc"); ok {
		t.Error("weak-signal controller recorded despite RSSI floor")
	}
}

func TestScannerStartIsSingleFlight(t *testing.T) {
	adapter := &fakeAdapter{}
	s := NewScanner(adapter, &collectingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	first := s.done
	s.Start(ctx) // must not spawn a second task
	if s.done != first {
		t.Error("second Start replaced the running scan task")
	}
	s.Stop()
	s.Stop() // idempotent
}

func TestPipelineDropsMalformedFrames(t *testing.T) {
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	char := &fakeChar{}
	p := NewPipeline(engine)

	var mu sync.Mutex
	var states []fusion.ControllerState
	forward := func(s fusion.ControllerState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	if err := p.Start(char, forward); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	char.notify(nil)
	char.notify([]byte{0x01, 0x02})
	char.notify(make([]byte, protocol.MinSensorPacketLen-1))
	char.notify(sensorFrame(1_000_000))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 1
	}, "valid frame not forwarded")

	mu.Lock()
	got := states[0].Timestamp
	mu.Unlock()
	if got != 1.0 {
		t.Errorf("state timestamp = %v, want 1.0", got)
	}
}

func TestPipelineStopIsIdempotentAndRestartable(t *testing.T) {
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	char := &fakeChar{}
	p := NewPipeline(engine)

	if err := p.Start(char, nil); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	p.Stop()

	if char.handler != nil {
		t.Error("stop left the notification handler installed")
	}

	// Start again replaces any prior subscription cleanly.
	if err := p.Start(char, nil); err != nil {
		t.Fatal(err)
	}
	p.Stop()
}

func TestConnectUnknownDeviceDoesNoIO(t *testing.T) {
	adapter := &fakeAdapter{}
	scanner := NewScanner(adapter, &collectingSink{})
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)

	err := m.Connect(context.Background(), "never-seen")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
	if adapter.calls() != 0 {
		t.Errorf("adapter.Connect called %d times for unknown device", adapter.calls())
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	peripheral, _, write := controllerPeripheral("Gear VR Controller(1C2B)", 87)
	adapter := &fakeAdapter{peripheral: peripheral, connectFails: 2}
	scanner := NewScanner(adapter, &collectingSink{})
	scanner.onAdvertisement(Advertisement{ID: "aa", Name: "Gear VR Controller(1C2B)", RSSI: -50})

	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)
	m.retryDelay = time.Millisecond

	if err := m.Connect(context.Background(), "aa"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	if adapter.calls() != 3 {
		t.Errorf("connect attempts = %d, want 3", adapter.calls())
	}

	// Init sequence: low-power off, then sensor mode.
	writes := write.written()
	if len(writes) < 2 {
		t.Fatalf("init wrote %d commands, want 2", len(writes))
	}
	if !bytes.Equal(writes[0], []byte{0x07, 0x00}) {
		t.Errorf("first init command = %v, want lpm-disable", writes[0])
	}
	if !bytes.Equal(writes[1], []byte{0x01, 0x00}) {
		t.Errorf("second init command = %v, want sensor mode", writes[1])
	}

	state := m.DeviceState()
	if !state.Connected || state.ID != "aa" {
		t.Errorf("device state = %+v, want connected aa", state)
	}
	if state.BatteryLevel != 87 {
		t.Errorf("battery level = %d, want 87", state.BatteryLevel)
	}
}

func TestConnectVrModeWritesVrCommand(t *testing.T) {
	peripheral, _, write := controllerPeripheral("Gear VR Controller(1C2B)", 50)
	adapter := &fakeAdapter{peripheral: peripheral}
	scanner := NewScanner(adapter, &collectingSink{})
	scanner.onAdvertisement(Advertisement{ID: "aa", Name: "Gear VR Controller(1C2B)", RSSI: -50})

	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)
	m.retryDelay = time.Millisecond
	m.VrMode = true

	if err := m.Connect(context.Background(), "aa"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	writes := write.written()
	if len(writes) < 2 || !bytes.Equal(writes[1], []byte{0x08, 0x00}) {
		t.Errorf("mode command = %v, want vr-mode", writes)
	}
}

func TestConnectFailsAfterMaxRetries(t *testing.T) {
	adapter := &fakeAdapter{connectFails: MaxConnectRetries + 1}
	scanner := NewScanner(adapter, &collectingSink{})
	scanner.onAdvertisement(Advertisement{ID: "aa", Name: "Gear VR Controller(1C2B)", RSSI: -50})

	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)
	m.retryDelay = time.Millisecond

	if err := m.Connect(context.Background(), "aa"); err == nil {
		t.Fatal("connect succeeded with a dead radio")
	}
	if adapter.calls() != MaxConnectRetries {
		t.Errorf("connect attempts = %d, want %d", adapter.calls(), MaxConnectRetries)
	}
}

func TestDisconnectStopsPipelineBeforeLink(t *testing.T) {
	peripheral, notify, _ := controllerPeripheral("Gear VR Controller(1C2B)", 50)

	var mu sync.Mutex
	var order []string
	log := func(ev string) {
		mu.Lock()
		order = append(order, ev)
		mu.Unlock()
	}
	notify.onEvent = log

	adapter := &fakeAdapter{peripheral: peripheral}
	scanner := NewScanner(adapter, &collectingSink{})
	scanner.onAdvertisement(Advertisement{ID: "aa", Name: "Gear VR Controller(1C2B)", RSSI: -50})

	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)
	m.retryDelay = time.Millisecond

	if err := m.Connect(context.Background(), "aa"); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	gotUnsub := false
	for _, ev := range order {
		if ev == "unsubscribe" {
			gotUnsub = true
		}
	}
	mu.Unlock()
	if !gotUnsub {
		t.Error("disconnect did not unsubscribe the notification pipeline")
	}

	peripheral.mu.Lock()
	events := append([]string(nil), peripheral.events...)
	peripheral.mu.Unlock()
	if len(events) == 0 || events[len(events)-1] != "disconnect" {
		t.Errorf("peripheral events = %v, want disconnect last", events)
	}

	if err := m.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second disconnect = %v, want ErrNotConnected", err)
	}
}

func TestReconnectUsesRememberedDevice(t *testing.T) {
	peripheral, _, _ := controllerPeripheral("Gear VR Controller(1C2B)", 50)
	adapter := &fakeAdapter{peripheral: peripheral}
	scanner := NewScanner(adapter, &collectingSink{})
	scanner.onAdvertisement(Advertisement{ID: "aa", Name: "Gear VR Controller(1C2B)", RSSI: -50})

	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)
	m.retryDelay = time.Millisecond

	if err := m.Connect(context.Background(), "aa"); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	if state := m.DeviceState(); !state.Connected {
		t.Error("reconnect did not restore the link")
	}
}

func TestReconnectWithoutHistoryFails(t *testing.T) {
	adapter := &fakeAdapter{}
	scanner := NewScanner(adapter, &collectingSink{})
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	m := NewManager(adapter, scanner, engine, nil)

	if err := m.Reconnect(context.Background()); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("reconnect = %v, want ErrDeviceNotFound", err)
	}
}
