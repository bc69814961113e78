package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/config"
)

// RunScan discovers controllers for the given duration and lists them.
func RunScan(cfgPath string, duration time.Duration) error {
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

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	rt.scanner.Start(ctx)
	<-ctx.Done()
	rt.scanner.Stop()

	devices := rt.scanner.Devices()
	if len(devices) == 0 {
		log.Info("scan: no controllers found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s  %q  rssi=%d\n", d.ID, d.Name, d.RSSI)
	}
	return nil
}
