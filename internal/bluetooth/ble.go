// Package bluetooth manages the BLE link to the controller: scanning,
// connecting with retry, the notification pipeline feeding the fusion
// engine, and the control command protocol.
package bluetooth

import (
	"context"
	"errors"
)

var (
	// ErrDeviceNotFound is returned when a device ID was never seen by a
	// scan and therefore cannot be connected to.
	ErrDeviceNotFound = errors.New("bluetooth: device not found")
	// ErrNotConnected is returned by operations that need a live link.
	ErrNotConnected = errors.New("bluetooth: not connected")
)

// Advertisement is one scan result.
type Advertisement struct {
	ID   string
	Name string
	RSSI int16
}

// Adapter abstracts the local BLE radio. The production implementation
// wraps tinygo.org/x/bluetooth; tests substitute fakes.
type Adapter interface {
	// Enable powers on the radio stack.
	Enable() error
	// Scan streams advertisements to found until ctx is cancelled or
	// StopScan is called. It blocks for the duration of the scan.
	Scan(ctx context.Context, found func(Advertisement)) error
	// StopScan aborts a running Scan.
	StopScan() error
	// Connect establishes a link to a previously advertised device.
	Connect(id string) (Peripheral, error)
}

// Peripheral is a connected remote device.
type Peripheral interface {
	ID() string
	Name() string
	Disconnect() error
	// Pair and Unpair bond with the device where the platform requires
	// it; implementations on platforms that bond implicitly may no-op.
	Pair() error
	Unpair() error
	DiscoverService(uuid string) (Service, error)
}

// Service is one discovered GATT service.
type Service interface {
	Characteristic(uuid string) (Characteristic, error)
}

// Characteristic is one discovered GATT characteristic.
type Characteristic interface {
	// Subscribe enables notifications; handler runs on the stack's
	// callback goroutine and must not block.
	Subscribe(handler func(buf []byte)) error
	Unsubscribe() error
	Write(data []byte) error
	Read() ([]byte, error)
}
