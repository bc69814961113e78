// Package events carries controller state and progress notifications to
// external consumers. The concrete transport is pluggable: MQTT, a local
// websocket hub, or nothing at all.
package events

import "github.com/airmouse/gearvr-bridge/internal/fusion"

// DeviceRecord describes a discovered controller.
type DeviceRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	RSSI      int16  `json:"rssi"`
	Paired    bool   `json:"is_paired"`
	Connected bool   `json:"is_connected"`
}

// Sink receives everything the core wants to tell the outside world.
// Implementations must not block the caller for long; the notification
// pipeline calls State at the full sensor report rate.
type Sink interface {
	// State delivers one fused controller snapshot.
	State(state fusion.ControllerState)
	// DeviceFound delivers one scan result.
	DeviceFound(device DeviceRecord)
	// CalibrationStep names the calibration phase just entered, including
	// the failure step when a phase aborts.
	CalibrationStep(step string)
	// CalibrationFinished reports the outcome of a whole procedure.
	CalibrationFinished(kind string, ok bool)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) State(fusion.ControllerState)     {}
func (NopSink) DeviceFound(DeviceRecord)         {}
func (NopSink) CalibrationStep(string)           {}
func (NopSink) CalibrationFinished(string, bool) {}

// MultiSink fans out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) State(s fusion.ControllerState) {
	for _, sink := range m {
		sink.State(s)
	}
}

func (m MultiSink) DeviceFound(d DeviceRecord) {
	for _, sink := range m {
		sink.DeviceFound(d)
	}
}

func (m MultiSink) CalibrationStep(step string) {
	for _, sink := range m {
		sink.CalibrationStep(step)
	}
}

func (m MultiSink) CalibrationFinished(kind string, ok bool) {
	for _, sink := range m {
		sink.CalibrationFinished(kind, ok)
	}
}
