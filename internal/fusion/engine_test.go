package fusion

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// restingSample returns a plausible motionless sample: gravity on Z and a
// clean local magnetic field.
func restingSample(tsUS uint32) protocol.RawSample {
	return protocol.RawSample{
		TimestampUS: tsUS,
		Seconds:     float64(tsUS) / 1e6,
		Accel:       r3.Vec{Z: 9.80665},
		Mag:         r3.Vec{X: 30, Z: 40}, // |B| = 50 µT
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LocalEarthMagField = 50
	return cfg
}

func TestDeltaTFromTimestamps(t *testing.T) {
	e := NewEngine(testConfig(), DefaultCalibration())

	e.deltaT(1.0)
	if got := e.deltaT(2.0); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("delta for 1,000,000 µs apart = %v, want 1.0", got)
	}
}

func TestDeltaTFallsBackOnBadSteps(t *testing.T) {
	nominal := testConfig().NominalSamplePeriod
	cases := []struct {
		name string
		t0   float64
		t1   float64
	}{
		{"reversed", 5.0, 4.0},
		{"identical", 5.0, 5.0},
		{"huge gap", 5.0, 100.0},
	}
	for _, c := range cases {
		e := NewEngine(testConfig(), DefaultCalibration())
		e.deltaT(c.t0)
		if got := e.deltaT(c.t1); math.Abs(got-nominal) > 1e-9 {
			t.Errorf("%s: delta = %v, want nominal %v", c.name, got, nominal)
		}
	}
}

func TestDeltaTSmoothing(t *testing.T) {
	cfg := testConfig()
	cfg.DeltaTSmoothingAlpha = 0.5
	e := NewEngine(cfg, DefaultCalibration())

	e.deltaT(0.0)
	e.deltaT(0.010) // smoothed = 0.010 (first value seeds the filter)
	got := e.deltaT(0.030)
	want := 0.5*0.020 + 0.5*0.010
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("smoothed delta = %v, want %v", got, want)
	}
}

func TestUpdateEmitsUnitQuaternion(t *testing.T) {
	e := NewEngine(testConfig(), DefaultCalibration())

	var state ControllerState
	for i := 0; i < 50; i++ {
		state = e.Update(restingSample(uint32(1_000_000 + i*14_600)))
	}
	n := quat.Abs(state.Orientation.Quat())
	if math.Abs(n-1.0) > 1e-9 {
		t.Errorf("orientation norm = %v, want 1", n)
	}
}

func TestUpdateHoldsOrientationOnDegenerateSample(t *testing.T) {
	e := NewEngine(testConfig(), DefaultCalibration())

	before := e.Update(restingSample(1_000_000))

	// All-zero accel makes the attitude update fail; the frame must still be
	// emitted with the previous orientation.
	bad := protocol.RawSample{TimestampUS: 1_014_600, Seconds: 1.0146}
	bad.Accel = r3.Vec{}
	// Defeat the low-pass memory so the filter really sees a zero vector.
	e.prevAccel = r3.Vec{}
	after := e.Update(bad)

	if after.Orientation != before.Orientation {
		t.Errorf("orientation changed on degenerate sample: %+v -> %+v", before.Orientation, after.Orientation)
	}
}

func TestMagGateSelectsIMUOnlyUpdate(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, DefaultCalibration())

	// A strongly disturbed field must not break the stream; the state is
	// still produced and the orientation stays a unit quaternion.
	s := restingSample(1_000_000)
	s.Mag = r3.Vec{X: 500} // 10× the expected field
	state := e.Update(s)
	if math.Abs(quat.Abs(state.Orientation.Quat())-1.0) > 1e-9 {
		t.Errorf("orientation norm = %v, want 1", quat.Abs(state.Orientation.Quat()))
	}

	if magUsable(500, cfg.LocalEarthMagField) {
		t.Error("field of 500 µT judged usable against a 50 µT local field")
	}
	for _, norm := range []float64{40, 50, 60} {
		if !magUsable(norm, cfg.LocalEarthMagField) {
			t.Errorf("field of %v µT judged unusable against a 50 µT local field", norm)
		}
	}
	for _, norm := range []float64{39.9, 60.1, 0} {
		if magUsable(norm, cfg.LocalEarthMagField) {
			t.Errorf("field of %v µT judged usable against a 50 µT local field", norm)
		}
	}
}

func TestRezeroOnHomePress(t *testing.T) {
	e := NewEngine(testConfig(), DefaultCalibration())

	// Let the filter drift away from identity for a while.
	for i := 0; i < 200; i++ {
		s := restingSample(uint32(1_000_000 + i*14_600))
		s.Gyro = r3.Vec{Z: 0.5}
		e.Update(s)
	}

	// Pressing home captures the inverse of the current attitude; the very
	// frame of the press must come out at (or extremely near) identity.
	s := restingSample(4_000_000)
	s.ButtonMask = 0x02
	state := e.Update(s)

	d := quat.Mul(quat.Inv(quat.Number{Real: 1}), state.Orientation.Quat())
	angle := 2 * math.Acos(math.Min(1, math.Abs(d.Real)))
	if angle > 0.05 {
		t.Errorf("orientation %v rad away from identity after re-zero", angle)
	}

	// The zero reference persists on later frames.
	s2 := restingSample(4_014_600)
	state2 := e.Update(s2)
	d2 := state2.Orientation.Quat()
	if math.Abs(quat.Abs(d2)-1.0) > 1e-9 {
		t.Errorf("post-re-zero orientation not unit: %v", quat.Abs(d2))
	}
}

func TestLowPassFilter(t *testing.T) {
	prev := r3.Vec{X: 0}
	cur := r3.Vec{X: 10}
	if got := lowPass(prev, cur, 1.0); got.X != 10 {
		t.Errorf("alpha=1 should pass the sample through, got %v", got.X)
	}
	if got := lowPass(prev, cur, 0.25); math.Abs(got.X-2.5) > 1e-12 {
		t.Errorf("alpha=0.25 blend = %v, want 2.5", got.X)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"alpha above one", func(c *Config) { c.SensorLowPassAlpha = 1.5 }, false},
		{"alpha negative", func(c *Config) { c.DeltaTSmoothingAlpha = -0.1 }, false},
		{"zero field", func(c *Config) { c.LocalEarthMagField = 0 }, false},
		{"zero period", func(c *Config) { c.NominalSamplePeriod = 0 }, false},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		c.mutate(&cfg)
		err := cfg.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestCalibrationApplied(t *testing.T) {
	e := NewEngine(testConfig(), DefaultCalibration())
	e.SetGyroCalibration(r3.Vec{Z: 0.25})
	e.SetMagCalibration(r3.Vec{X: 5}, [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})

	s := restingSample(1_000_000)
	s.Gyro = r3.Vec{Z: 0.25}
	s.Mag = r3.Vec{X: 35, Z: 40}
	state := e.Update(s)

	if math.Abs(state.Gyroscope.Z) > 1e-9 {
		t.Errorf("gyro bias not removed: %v", state.Gyroscope.Z)
	}
	if math.Abs(state.Magnetometer.X-30) > 1e-9 {
		t.Errorf("hard-iron bias not removed: %v", state.Magnetometer.X)
	}
}
