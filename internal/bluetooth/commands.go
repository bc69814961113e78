package bluetooth

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// initSettleDelay gives the firmware time to apply a mode change before the
// next command; the stock host app paces its writes the same way.
const initSettleDelay = 100 * time.Millisecond

// Executor writes control commands to the controller's write characteristic.
type Executor struct {
	char Characteristic
}

// NewExecutor returns an executor bound to the write characteristic.
func NewExecutor(char Characteristic) *Executor {
	return &Executor{char: char}
}

// Send writes one command.
func (e *Executor) Send(cmd protocol.Command) error {
	if err := e.char.Write(cmd.Bytes()); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	log.Debugf("bluetooth: sent %s", cmd)
	return nil
}

// Initialize runs the wake-up sequence: disable low-power mode, settle,
// then enable sensor reporting (or the VR reporting mode) and settle again.
func (e *Executor) Initialize(vrMode bool) error {
	if err := e.Send(protocol.CmdLpmDisable); err != nil {
		return err
	}
	time.Sleep(initSettleDelay)

	mode := protocol.CmdSensor
	if vrMode {
		mode = protocol.CmdVrMode
	}
	if err := e.Send(mode); err != nil {
		return err
	}
	time.Sleep(initSettleDelay)
	return nil
}

// TurnOff powers the controller down.
func (e *Executor) TurnOff() error {
	return e.Send(protocol.CmdOff)
}

// Calibrate triggers the controller's internal calibration routine.
func (e *Executor) Calibrate() error {
	return e.Send(protocol.CmdCalibrate)
}

// StartKeepAlive sends the keep-alive command on a fixed interval until ctx
// is cancelled. Write failures are logged and the loop keeps going; the
// manager notices a dead link through the notification stream.
func (e *Executor) StartKeepAlive(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := e.Send(protocol.CmdKeepAlive); err != nil {
					log.Warnf("bluetooth: keep-alive: %v", err)
				}
			}
		}
	}()
}
