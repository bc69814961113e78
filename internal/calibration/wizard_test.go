package calibration

import (
	"context"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/airmouse/gearvr-bridge/internal/events"
	"github.com/airmouse/gearvr-bridge/internal/fusion"
	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

type recordingSink struct {
	mu       sync.Mutex
	steps    []string
	finished map[string]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{finished: make(map[string]bool)}
}

func (s *recordingSink) State(fusion.ControllerState)    {}
func (s *recordingSink) DeviceFound(events.DeviceRecord) {}

func (s *recordingSink) CalibrationStep(step string) {
	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()
}

func (s *recordingSink) CalibrationFinished(kind string, ok bool) {
	s.mu.Lock()
	s.finished[kind] = ok
	s.mu.Unlock()
}

func (s *recordingSink) sawStep(step string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.steps {
		if got == step {
			return true
		}
	}
	return false
}

type countingSaver struct{ saves int }

func (c *countingSaver) Save() error {
	c.saves++
	return nil
}

func fastWizard(engine *fusion.Engine, sink events.Sink, saver Saver) *Wizard {
	w := NewWizard(engine, sink, saver)
	w.MagFigureEight = time.Millisecond
	w.MagTilt = time.Millisecond
	w.MagRotate = time.Millisecond
	w.GyroStill = time.Millisecond
	return w
}

func TestGyroCalibrationAppliesMeanBias(t *testing.T) {
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	sink := newRecordingSink()
	saver := &countingSaver{}
	w := fastWizard(engine, sink, saver)
	w.GyroStill = 50 * time.Millisecond

	// Feed samples through the engine while the wizard records, the same
	// path live notifications take.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			engine.Update(protocol.RawSample{
				TimestampUS: uint32(1_000_000 + i*14_600),
				Seconds:     1.0 + float64(i)*0.0146,
				Accel:       r3.Vec{Z: 9.8},
				Gyro:        r3.Vec{X: 0.02},
			})
			time.Sleep(time.Millisecond)
		}
	}()

	if err := w.RunGyro(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-done

	if !sink.finished["gyro"] {
		t.Fatalf("gyro calibration not reported successful; steps: %v", sink.steps)
	}
	bias := engine.Calibration().GyroZeroBias
	if bias.X < 0.019 || bias.X > 0.021 {
		t.Errorf("gyro zero bias = %v, want ~0.02", bias.X)
	}
	if saver.saves != 1 {
		t.Errorf("config saved %d times, want 1", saver.saves)
	}
}

func TestMagCalibrationWithoutSamplesReportsFailure(t *testing.T) {
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	sink := newRecordingSink()
	saver := &countingSaver{}
	w := fastWizard(engine, sink, saver)

	before := engine.Calibration()

	// No samples flow through the engine during recording.
	if err := w.RunMag(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !sink.sawStep(StepMagFailed) {
		t.Errorf("failure step not reported; steps: %v", sink.steps)
	}
	if ok, reported := sink.finished["mag"]; !reported || ok {
		t.Errorf("finished[mag] = %v/%v, want reported failure", ok, reported)
	}
	if engine.Calibration() != before {
		t.Error("failed calibration mutated existing parameters")
	}
	if saver.saves != 0 {
		t.Errorf("config saved %d times on failure, want 0", saver.saves)
	}
}

func TestMagCalibrationLeavesGyroSamplesAlone(t *testing.T) {
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	w := fastWizard(engine, newRecordingSink(), nil)

	// Pre-load gyro samples as if a gyro recording were in flight.
	if err := w.rec.Start(""); err != nil {
		t.Fatal(err)
	}
	w.rec.Record(protocol.RawSample{Gyro: r3.Vec{Z: 1}})
	w.rec.Stop()

	if err := w.RunMag(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := w.rec.GyroSampleCount(); got == 0 {
		t.Error("mag procedure discarded gyro samples")
	}
}

func TestWizardHonorsCancellation(t *testing.T) {
	engine := fusion.NewEngine(fusion.DefaultConfig(), fusion.DefaultCalibration())
	w := NewWizard(engine, newRecordingSink(), nil) // full-length phases

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.RunGyro(ctx); err == nil {
		t.Error("cancelled gyro calibration returned nil")
	}
}
