package bluetooth

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// StateHandler receives every fused controller state the pipeline emits.
type StateHandler func(fusion.ControllerState)

// Pipeline turns sensor notifications into fused states: the BLE callback
// hands raw buffers to a bounded channel, a worker decodes them, runs the
// fusion engine and forwards the result. Short or malformed buffers are
// dropped without comment; the stream is lossy by nature.
type Pipeline struct {
	engine *fusion.Engine

	mu     sync.Mutex
	char   Characteristic
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline returns a pipeline feeding engine.
func NewPipeline(engine *fusion.Engine) *Pipeline {
	return &Pipeline{engine: engine}
}

// Start subscribes to char and begins processing. A previous subscription
// is cancelled and joined first, so at most one worker ever runs.
func (p *Pipeline) Start(char Characteristic, forward StateHandler) error {
	p.Stop()

	frames := make(chan []byte, notifyBufferSize)
	if err := char.Subscribe(func(buf []byte) {
		// The stack may reuse buf after the callback returns.
		frame := make([]byte, len(buf))
		copy(frame, buf)
		select {
		case frames <- frame:
		default:
			// Worker is behind; dropping a frame beats blocking the
			// BLE callback goroutine.
		}
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.char = char
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-frames:
				sample, ok := protocol.DecodeSensorPacket(frame)
				if !ok {
					continue
				}
				state := p.engine.Update(sample)
				if forward != nil {
					forward(state)
				}
			}
		}
	}()
	log.Debug("bluetooth: notification pipeline started")
	return nil
}

// Stop unsubscribes and waits for the worker to exit. Stopping an idle or
// already stopped pipeline is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	char, cancel, done := p.char, p.cancel, p.done
	p.char, p.cancel, p.done = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	if err := char.Unsubscribe(); err != nil {
		log.Debugf("bluetooth: unsubscribe: %v", err)
	}
	cancel()
	<-done
	log.Debug("bluetooth: notification pipeline stopped")
}
