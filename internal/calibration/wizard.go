package calibration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/events"
	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// Progress step names reported to the event sink. The UI layer localizes
// them; the core only names them.
const (
	StepMagStarting           = "calibration.mag.starting"
	StepMagFigureEight        = "calibration.mag.figure_eight"
	StepMagTilt               = "calibration.mag.tilt"
	StepMagRotate             = "calibration.mag.rotate"
	StepMagCollectionComplete = "calibration.mag.collection_complete"
	StepMagFailed             = "calibration.mag.failed"
	StepMagSuccess            = "calibration.mag.success"

	StepGyroStarting           = "calibration.gyro.starting"
	StepGyroStill              = "calibration.gyro.still"
	StepGyroCollectionComplete = "calibration.gyro.collection_complete"
	StepGyroFailed             = "calibration.gyro.failed"
	StepGyroSuccess            = "calibration.gyro.success"
)

// Saver persists configuration after a calibration mutates it.
type Saver interface {
	Save() error
}

// Wizard orchestrates the timed calibration procedures: it announces each
// phase, records raw samples while the user performs the prescribed motion,
// derives the parameters, applies them to the live fusion engine, and asks
// the config collaborator to persist them.
type Wizard struct {
	engine *fusion.Engine
	rec    *Recorder
	sink   events.Sink
	saver  Saver

	// DataDir receives the CSV exports; empty disables them.
	DataDir string

	// Phase durations, exposed for tests.
	MagFigureEight time.Duration
	MagTilt        time.Duration
	MagRotate      time.Duration
	GyroStill      time.Duration
}

// NewWizard wires a wizard to the engine it calibrates. The recorder is
// attached to the engine's raw-sample tap for the wizard's lifetime.
func NewWizard(engine *fusion.Engine, sink events.Sink, saver Saver) *Wizard {
	w := &Wizard{
		engine:         engine,
		rec:            NewRecorder(),
		sink:           sink,
		saver:          saver,
		MagFigureEight: 10 * time.Second,
		MagTilt:        8 * time.Second,
		MagRotate:      8 * time.Second,
		GyroStill:      5 * time.Second,
	}
	engine.SetSampleTap(w.rec.Record)
	return w
}

// Recorder exposes the sample store, mainly for tests.
func (w *Wizard) Recorder() *Recorder {
	return w.rec
}

// RunMag runs the magnetometer procedure: figure-eight, tilt and rotate
// phases, then hard-iron = mean of the recorded samples. The soft-iron
// matrix is deliberately left as identity; a proper ellipsoid fit is a
// known gap of the current routine.
func (w *Wizard) RunMag(ctx context.Context) error {
	w.sink.CalibrationStep(StepMagStarting)

	w.rec.ClearMag()
	if err := w.rec.Start(w.exportPath("mag")); err != nil {
		return err
	}

	phases := []struct {
		step string
		d    time.Duration
	}{
		{StepMagFigureEight, w.MagFigureEight},
		{StepMagTilt, w.MagTilt},
		{StepMagRotate, w.MagRotate},
	}
	for _, p := range phases {
		w.sink.CalibrationStep(p.step)
		if err := sleep(ctx, p.d); err != nil {
			w.rec.Stop()
			return err
		}
	}
	w.rec.Stop()
	w.sink.CalibrationStep(StepMagCollectionComplete)

	bias, err := w.rec.MagBias()
	if err != nil {
		log.Errorf("calibration: magnetometer: %v", err)
		w.sink.CalibrationStep(StepMagFailed)
		w.sink.CalibrationFinished("mag", false)
		return nil // reported, not fatal; prior parameters stay untouched
	}

	identity := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	w.engine.SetMagCalibration(bias, identity)
	w.persist()

	w.sink.CalibrationStep(StepMagSuccess)
	w.sink.CalibrationFinished("mag", true)
	return nil
}

// RunGyro runs the gyroscope procedure: the controller rests still for a
// fixed window, then zero bias = mean of the recorded samples.
func (w *Wizard) RunGyro(ctx context.Context) error {
	w.sink.CalibrationStep(StepGyroStarting)

	w.rec.ClearGyro()
	if err := w.rec.Start(w.exportPath("gyro")); err != nil {
		return err
	}

	w.sink.CalibrationStep(StepGyroStill)
	if err := sleep(ctx, w.GyroStill); err != nil {
		w.rec.Stop()
		return err
	}
	w.rec.Stop()
	w.sink.CalibrationStep(StepGyroCollectionComplete)

	bias, err := w.rec.GyroBias()
	if err != nil {
		log.Errorf("calibration: gyroscope: %v", err)
		w.sink.CalibrationStep(StepGyroFailed)
		w.sink.CalibrationFinished("gyro", false)
		return nil
	}

	w.engine.SetGyroCalibration(bias)
	w.persist()

	w.sink.CalibrationStep(StepGyroSuccess)
	w.sink.CalibrationFinished("gyro", true)
	return nil
}

func (w *Wizard) exportPath(kind string) string {
	if w.DataDir == "" {
		return ""
	}
	if err := os.MkdirAll(w.DataDir, 0o755); err != nil {
		log.Warnf("calibration: create data dir: %v", err)
		return ""
	}
	name := fmt.Sprintf("%s_calibration_data_%s.csv", kind, time.Now().Format("20060102150405"))
	return filepath.Join(w.DataDir, name)
}

func (w *Wizard) persist() {
	if w.saver == nil {
		return
	}
	// Persistence failures are logged, never fatal: the in-memory
	// parameters stay authoritative for this session.
	if err := w.saver.Save(); err != nil {
		log.Errorf("calibration: persist config: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
