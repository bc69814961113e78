package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Config holds the tunable parameters of the fusion pipeline.
type Config struct {
	// SensorLowPassAlpha is the single-pole low-pass coefficient applied to
	// the raw accel/gyro/mag vectors. 1.0 disables the filter.
	SensorLowPassAlpha float64 `json:"sensor_low_pass_alpha"`

	// DeltaTSmoothingAlpha exponentially smooths the device timestamp delta
	// before it reaches the attitude filter. 1.0 disables smoothing.
	DeltaTSmoothingAlpha float64 `json:"delta_t_smoothing_alpha"`

	// MadgwickBeta is the filter gain: larger values trust the
	// accelerometer/magnetometer more, smaller values the gyroscope.
	MadgwickBeta float64 `json:"madgwick_beta"`

	// LocalEarthMagField is the expected local geomagnetic field strength
	// in µT, used to reject magnetically disturbed samples.
	LocalEarthMagField float64 `json:"local_earth_mag_field"`

	// NominalSamplePeriod is the fallback time step in seconds when the
	// device timestamps are unusable.
	NominalSamplePeriod float64 `json:"nominal_sample_period"`
}

// DefaultConfig returns the stock tuning for the controller.
func DefaultConfig() Config {
	return Config{
		SensorLowPassAlpha:   1.0,
		DeltaTSmoothingAlpha: 1.0,
		MadgwickBeta:         0.1,
		LocalEarthMagField:   49.5,
		NominalSamplePeriod:  1.0 / 68.3, // observed report rate of the controller
	}
}

// Validate reports the first invalid parameter, if any.
func (c Config) Validate() error {
	if c.SensorLowPassAlpha < 0 || c.SensorLowPassAlpha > 1 {
		return fmt.Errorf("sensor_low_pass_alpha %v outside [0,1]", c.SensorLowPassAlpha)
	}
	if c.DeltaTSmoothingAlpha < 0 || c.DeltaTSmoothingAlpha > 1 {
		return fmt.Errorf("delta_t_smoothing_alpha %v outside [0,1]", c.DeltaTSmoothingAlpha)
	}
	if c.LocalEarthMagField <= 0 {
		return fmt.Errorf("local_earth_mag_field must be positive, got %v", c.LocalEarthMagField)
	}
	if c.NominalSamplePeriod <= 0 {
		return fmt.Errorf("nominal_sample_period must be positive, got %v", c.NominalSamplePeriod)
	}
	return nil
}

// CalibrationParams holds the in-field sensor corrections. The soft-iron
// matrix is left as identity by the current magnetometer routine; only the
// hard-iron centroid is estimated.
type CalibrationParams struct {
	MagHardIronBias r3.Vec        `json:"mag_hard_iron_bias"`
	MagSoftIron     [3][3]float64 `json:"mag_soft_iron_matrix"`
	GyroZeroBias    r3.Vec        `json:"gyro_zero_bias"`
}

// DefaultCalibration returns zero biases and an identity soft-iron matrix.
func DefaultCalibration() CalibrationParams {
	return CalibrationParams{
		MagSoftIron: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// applyMag corrects a magnetometer sample: hard-iron subtraction followed by
// the soft-iron matrix multiply.
func (p CalibrationParams) applyMag(m r3.Vec) r3.Vec {
	v := r3.Sub(m, p.MagHardIronBias)
	return r3.Vec{
		X: p.MagSoftIron[0][0]*v.X + p.MagSoftIron[0][1]*v.Y + p.MagSoftIron[0][2]*v.Z,
		Y: p.MagSoftIron[1][0]*v.X + p.MagSoftIron[1][1]*v.Y + p.MagSoftIron[1][2]*v.Z,
		Z: p.MagSoftIron[2][0]*v.X + p.MagSoftIron[2][1]*v.Y + p.MagSoftIron[2][2]*v.Z,
	}
}
