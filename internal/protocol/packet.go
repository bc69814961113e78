package protocol

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MinSensorPacketLen is the minimum length of a sensor report. Shorter
// buffers are not an error, they simply carry no decodable state.
const MinSensorPacketLen = 59

// Sensor value conversions. Accelerometer counts are 2048 per g, gyroscope
// counts are 14.285 per °/s, magnetometer counts are 0.06 µT each. The
// touchpad axes are 10-bit values where 315 is the largest magnitude the
// hardware has been observed to report.
const (
	accelScale  = 9.80665 / 2048.0         // counts -> m/s²
	gyroScale   = (math.Pi / 180) / 14.285 // counts -> rad/s
	magScale    = 0.06                     // counts -> µT
	touchpadMax = 315.0
)

// RawSample is one decoded but uncalibrated sensor report.
type RawSample struct {
	// TimestampUS is the device clock in microseconds.
	TimestampUS uint32
	// Seconds is TimestampUS converted to seconds.
	Seconds float64

	Accel r3.Vec // m/s²
	Gyro  r3.Vec // rad/s
	Mag   r3.Vec // µT

	Temperature float64 // °C

	// ButtonMask is the raw button bitmask from byte 58.
	ButtonMask byte
	// TouchX and TouchY are the raw 10-bit touchpad axes.
	TouchX uint16
	TouchY uint16
}

// ButtonState holds the decoded button flags of one report.
type ButtonState struct {
	Trigger    bool `json:"trigger"`
	Home       bool `json:"home"`
	Back       bool `json:"back"`
	Touchpad   bool `json:"touchpad"`
	VolumeUp   bool `json:"volume_up"`
	VolumeDown bool `json:"volume_down"`
	NoButton   bool `json:"no_button"`
}

// TouchpadState holds the normalized touchpad position of one report.
// X and Y are in [0, 1]; Touched reports whether a finger is down.
type TouchpadState struct {
	Touched bool    `json:"touched"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Buttons derives the button flags from the raw bitmask.
func (s RawSample) Buttons() ButtonState {
	return ButtonState{
		Trigger:    s.ButtonMask&(1<<0) != 0,
		Home:       s.ButtonMask&(1<<1) != 0,
		Back:       s.ButtonMask&(1<<2) != 0,
		Touchpad:   s.ButtonMask&(1<<3) != 0,
		VolumeUp:   s.ButtonMask&(1<<4) != 0,
		VolumeDown: s.ButtonMask&(1<<5) != 0,
		NoButton:   s.ButtonMask&(1<<6) != 0,
	}
}

// TouchpadState normalizes the raw touchpad axes. A report of (0, 0) means
// no touch; anything else is a finger position.
func (s RawSample) TouchpadState() TouchpadState {
	return TouchpadState{
		Touched: s.TouchX != 0 || s.TouchY != 0,
		X:       clamp01(float64(s.TouchX) / touchpadMax),
		Y:       clamp01(float64(s.TouchY) / touchpadMax),
	}
}

// DecodeSensorPacket decodes a controller sensor report.
//
// Layout (little-endian signed 16-bit fields unless noted):
//
//	0-3    device timestamp (u32, µs)
//	4-9    accel x,y,z
//	10-15  gyro x,y,z
//	48-53  mag x,y,z
//	54-56  touchpad 10-bit x/y packed across 3 bytes
//	57     temperature (u8, °C)
//	58     button bitmask
//
// Buffers shorter than MinSensorPacketLen return ok == false; that is the
// normal "insufficient data" outcome, not an error.
func DecodeSensorPacket(buf []byte) (sample RawSample, ok bool) {
	if len(buf) < MinSensorPacketLen {
		return RawSample{}, false
	}

	ts := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24

	sample = RawSample{
		TimestampUS: ts,
		Seconds:     float64(ts) / 1e6,
		Accel: r3.Vec{
			X: float64(i16(buf, 4)) * accelScale,
			Y: float64(i16(buf, 6)) * accelScale,
			Z: float64(i16(buf, 8)) * accelScale,
		},
		Gyro: r3.Vec{
			X: float64(i16(buf, 10)) * gyroScale,
			Y: float64(i16(buf, 12)) * gyroScale,
			Z: float64(i16(buf, 14)) * gyroScale,
		},
		Mag: r3.Vec{
			X: float64(i16(buf, 48)) * magScale,
			Y: float64(i16(buf, 50)) * magScale,
			Z: float64(i16(buf, 52)) * magScale,
		},
		Temperature: float64(buf[57]),
		ButtonMask:  buf[58],
		TouchX:      (uint16(buf[54])&0x0F)<<6 | (uint16(buf[55])&0xFC)>>2,
		TouchY:      (uint16(buf[55])&0x03)<<8 | uint16(buf[56]),
	}
	return sample, true
}

func i16(buf []byte, off int) int16 {
	return int16(uint16(buf[off]) | uint16(buf[off+1])<<8)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
