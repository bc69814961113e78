package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/calibration"
	"github.com/airmouse/gearvr-bridge/internal/config"
)

// RunCalibrate connects to the controller and runs one calibration
// procedure: "mag" or "gyro". Results are applied live and persisted.
func RunCalibrate(cfgPath, deviceID, kind string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := config.Open(cfgPath)
	if err != nil {
		return err
	}
	rt, err := setup(store, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.connect(ctx, deviceID); err != nil {
		return err
	}
	defer func() {
		if err := rt.manager.Disconnect(); err != nil {
			log.Warnf("app: disconnect: %v", err)
		}
	}()

	saver := &calibrationSaver{rt: rt}
	wizard := calibration.NewWizard(rt.engine, rt.sinks, saver)
	wizard.DataDir = rt.cfg.Calibration.DataDir

	switch kind {
	case "mag":
		return wizard.RunMag(ctx)
	case "gyro":
		return wizard.RunGyro(ctx)
	default:
		return fmt.Errorf("unknown calibration %q, want mag or gyro", kind)
	}
}

// calibrationSaver copies the engine's live parameters into the config
// store before persisting, so a save always writes the latest values.
type calibrationSaver struct {
	rt *runtime
}

func (s *calibrationSaver) Save() error {
	s.rt.store.SetCalibration(s.rt.engine.Calibration())
	return s.rt.store.Save()
}
