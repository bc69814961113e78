package fusion

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// Quaternion is a unit quaternion in wire-friendly form.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// Quat converts to a gonum quaternion.
func (q Quaternion) Quat() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// FromQuat converts from a gonum quaternion.
func FromQuat(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

// Normalize rescales n to unit length, countering floating-point drift.
// A degenerate (zero-norm) quaternion normalizes to the identity.
func Normalize(n quat.Number) quat.Number {
	a := quat.Abs(n)
	if a == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/a, n)
}

// ControllerState is the fused, user-facing snapshot produced once per valid
// sensor report. It is never mutated after creation; downstream consumers
// receive copies.
type ControllerState struct {
	// Timestamp is the device clock in seconds.
	Timestamp float64 `json:"timestamp"`

	Buttons  protocol.ButtonState   `json:"buttons"`
	Touchpad protocol.TouchpadState `json:"touchpad"`

	// Orientation is the fused attitude, re-based onto the user's zero
	// reference when one has been captured.
	Orientation Quaternion `json:"orientation"`

	// Filtered, calibrated sensor vectors.
	Accelerometer r3.Vec `json:"accelerometer"`
	Gyroscope     r3.Vec `json:"gyroscope"`
	Magnetometer  r3.Vec `json:"magnetometer"`

	Temperature  float64 `json:"temperature"`
	BatteryLevel uint8   `json:"battery_level"`
}
