package app

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/config"
	"github.com/airmouse/gearvr-bridge/internal/mapping"
)

// RunBridge runs the full pipeline: scan, connect, fuse and map controller
// state to pointer and keyboard input until interrupted.
func RunBridge(cfgPath, deviceID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := config.Open(cfgPath)
	if err != nil {
		return err
	}
	cfg := store.Config()

	mapper := mapping.NewMapper(
		mapping.NewRobotgoActuator(),
		cfg.MappingConfig(),
		cfg.MappingKeymap(),
	)
	mapper.Start(ctx)
	defer mapper.Stop()

	rt, err := setup(store, mapper.State)
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

	log.Info("app: bridge running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info("app: shutting down")
	return nil
}
