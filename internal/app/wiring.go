// Package app assembles the subsystems into runnable commands: the bridge
// itself, device scanning, calibration and the MQTT console.
package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/bluetooth"
	"github.com/airmouse/gearvr-bridge/internal/config"
	"github.com/airmouse/gearvr-bridge/internal/events"
	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// runtime bundles the subsystems every command needs.
type runtime struct {
	store   *config.Store
	cfg     config.Config
	sinks   events.MultiSink
	engine  *fusion.Engine
	adapter bluetooth.Adapter
	scanner *bluetooth.Scanner
	manager *bluetooth.Manager

	mqttSink *events.MQTTSink
}

// setup wires the common subsystems around an opened store. forward
// receives fused states in addition to the configured event sinks.
func setup(store *config.Store, forward bluetooth.StateHandler) (*runtime, error) {
	cfg := store.Config()

	rt := &runtime{store: store, cfg: cfg}

	if cfg.MQTT.Enabled {
		sink, err := events.NewMQTTSink(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		rt.mqttSink = sink
		rt.sinks = append(rt.sinks, sink)
	}
	if cfg.Web.Enabled {
		hub := events.NewHub()
		go func() {
			if err := hub.Run(cfg.Web.Addr); err != nil {
				log.Errorf("web: %v", err)
			}
		}()
		rt.sinks = append(rt.sinks, hub)
	}

	rt.engine = fusion.NewEngine(cfg.FusionConfig(), cfg.CalibrationParams())

	rt.adapter = bluetooth.NewAdapter()
	if err := rt.adapter.Enable(); err != nil {
		rt.close()
		return nil, err
	}
	rt.scanner = bluetooth.NewScanner(rt.adapter, rt.sinks)
	rt.scanner.MinRSSI = cfg.Bluetooth.MinRSSI

	states := func(state fusion.ControllerState) {
		if forward != nil {
			forward(state)
		}
		rt.sinks.State(state)
	}
	rt.manager = bluetooth.NewManager(rt.adapter, rt.scanner, rt.engine, states)
	rt.manager.VrMode = cfg.Bluetooth.VrMode

	return rt, nil
}

func (rt *runtime) close() {
	if rt.mqttSink != nil {
		rt.mqttSink.Close()
	}
}

// findController scans until a controller is discovered or ctx expires.
// When deviceID is non-empty only that device matches; otherwise the first
// controller wins.
func (rt *runtime) findController(ctx context.Context, deviceID string) (string, error) {
	rt.scanner.Start(ctx)
	defer rt.scanner.Stop()

	// A remembered device gets a head start; after that any controller is
	// better than none.
	preferUntil := time.Now().Add(10 * time.Second)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("scan: %w", ctx.Err())
		case <-ticker.C:
			if deviceID != "" {
				if _, ok := rt.scanner.Lookup(deviceID); ok {
					return deviceID, nil
				}
				if time.Now().Before(preferUntil) {
					continue
				}
			}
			if devices := rt.scanner.Devices(); len(devices) > 0 {
				return devices[0].ID, nil
			}
		}
	}
}

// connect finds the controller and establishes the link, remembering the
// device for future reconnects.
func (rt *runtime) connect(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		deviceID = rt.cfg.Bluetooth.DeviceID
	}

	id, err := rt.findController(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := rt.manager.Connect(ctx, id); err != nil {
		return err
	}

	rt.store.Update(func(c *config.Config) {
		c.Bluetooth.DeviceID = id
	})
	if err := rt.store.Save(); err != nil {
		log.Warnf("app: remember device: %v", err)
	}
	return nil
}
