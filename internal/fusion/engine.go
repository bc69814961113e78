package fusion

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// SampleTap receives every raw sample entering the engine. The calibration
// recorder attaches here; the tap must not block.
type SampleTap func(protocol.RawSample)

// Engine fuses raw sensor samples into controller states. It is safe for
// concurrent use; the notification pipeline updates it while the calibration
// controller mutates its parameters.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	cal CalibrationParams

	filter *Madgwick

	// Low-pass filter state.
	primed    bool
	prevAccel r3.Vec
	prevGyro  r3.Vec
	prevMag   r3.Vec

	// Timestamp state.
	haveTS     bool
	lastTS     float64
	smoothedDT float64

	// Re-zero reference, composed in front of the raw fused attitude.
	haveZero bool
	zeroRef  quat.Number

	lastButtons protocol.ButtonState
	lastGood    quat.Number

	battery uint8

	tap SampleTap
}

// NewEngine returns an engine with the given tuning and calibration.
func NewEngine(cfg Config, cal CalibrationParams) *Engine {
	return &Engine{
		cfg:      cfg,
		cal:      cal,
		filter:   NewMadgwick(cfg.MadgwickBeta),
		lastGood: quat.Number{Real: 1},
	}
}

// SetSampleTap installs (or removes, with nil) the raw-sample side channel.
func (e *Engine) SetSampleTap(tap SampleTap) {
	e.mu.Lock()
	e.tap = tap
	e.mu.Unlock()
}

// Calibration returns a copy of the live calibration parameters.
func (e *Engine) Calibration() CalibrationParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cal
}

// SetMagCalibration replaces the magnetometer correction.
func (e *Engine) SetMagCalibration(hardIron r3.Vec, softIron [3][3]float64) {
	e.mu.Lock()
	e.cal.MagHardIronBias = hardIron
	e.cal.MagSoftIron = softIron
	e.mu.Unlock()
	log.WithField("hard_iron", hardIron).Info("fusion: magnetometer calibration applied")
}

// SetGyroCalibration replaces the gyroscope zero-rate bias.
func (e *Engine) SetGyroCalibration(bias r3.Vec) {
	e.mu.Lock()
	e.cal.GyroZeroBias = bias
	e.mu.Unlock()
	log.WithField("zero_bias", bias).Info("fusion: gyroscope calibration applied")
}

// SetBatteryLevel records the most recent battery read; it is carried on
// every subsequently emitted state.
func (e *Engine) SetBatteryLevel(level uint8) {
	e.mu.Lock()
	e.battery = level
	e.mu.Unlock()
}

// Update runs the fusion pipeline for one raw sample and returns the fused
// snapshot. A numerically degenerate sample keeps the previous orientation
// rather than failing: continuity wins over correctness for a single frame.
func (e *Engine) Update(sample protocol.RawSample) ControllerState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tap != nil {
		e.tap(sample)
	}

	// 1. Single-pole low-pass on the raw vectors.
	if !e.primed {
		e.prevAccel, e.prevGyro, e.prevMag = sample.Accel, sample.Gyro, sample.Mag
		e.primed = true
	}
	alpha := e.cfg.SensorLowPassAlpha
	accel := lowPass(e.prevAccel, sample.Accel, alpha)
	gyro := lowPass(e.prevGyro, sample.Gyro, alpha)
	mag := lowPass(e.prevMag, sample.Mag, alpha)
	e.prevAccel, e.prevGyro, e.prevMag = accel, gyro, mag

	// 2. Apply calibration.
	gyro = r3.Sub(gyro, e.cal.GyroZeroBias)
	mag = e.cal.applyMag(mag)

	// 3. Smoothed delta-t with nominal-period fallback.
	dt := e.deltaT(sample.Seconds)

	// 4. Run the attitude update, trusting the magnetometer only while its
	// norm sits inside the expected band around the local field strength.
	var err error
	if magUsable(r3.Norm(mag), e.cfg.LocalEarthMagField) {
		err = e.filter.Update(gyro, accel, mag, dt)
	} else {
		err = e.filter.UpdateIMU(gyro, accel, dt)
	}

	// 5. Hold the last good attitude on a failed update.
	raw := e.lastGood
	if err == nil {
		raw = e.filter.Orientation()
		e.lastGood = raw
	}

	// 6. Re-zero on a home-press edge, then compose the zero reference.
	buttons := sample.Buttons()
	if buttons.Home && !e.lastButtons.Home {
		e.zeroRef = Normalize(quat.Inv(raw))
		e.haveZero = true
	}
	e.lastButtons = buttons

	oriented := raw
	if e.haveZero {
		oriented = Normalize(quat.Mul(e.zeroRef, raw))
	}

	return ControllerState{
		Timestamp:     sample.Seconds,
		Buttons:       buttons,
		Touchpad:      sample.TouchpadState(),
		Orientation:   FromQuat(oriented),
		Accelerometer: accel,
		Gyroscope:     gyro,
		Magnetometer:  mag,
		Temperature:   sample.Temperature,
		BatteryLevel:  e.battery,
	}
}

// maxDeltaT caps the accepted timestamp step; a gap beyond one second means
// dropped packets or a device clock jump, not a real sample interval.
const maxDeltaT = 1.0

// deltaT derives the time step from consecutive device timestamps. Steps
// that are non-positive or wildly divergent fall back to the nominal period,
// then the result is exponentially smoothed.
func (e *Engine) deltaT(now float64) float64 {
	nominal := e.cfg.NominalSamplePeriod

	dt := nominal
	if e.haveTS {
		raw := now - e.lastTS
		if raw > 0 && raw <= maxDeltaT {
			dt = raw
		}
	}
	e.lastTS = now
	e.haveTS = true

	if e.smoothedDT == 0 {
		e.smoothedDT = dt
	} else {
		a := e.cfg.DeltaTSmoothingAlpha
		e.smoothedDT = a*dt + (1-a)*e.smoothedDT
	}
	return e.smoothedDT
}

// magUsable reports whether the field magnitude sits within [0.8, 1.2]× the
// expected local field, the heuristic for "no magnetic interference".
func magUsable(norm, localField float64) bool {
	return norm >= 0.8*localField && norm <= 1.2*localField
}

func lowPass(prev, cur r3.Vec, alpha float64) r3.Vec {
	return r3.Add(r3.Scale(alpha, cur), r3.Scale(1-alpha, prev))
}
