package mapping

import (
	"context"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// tickInterval paces the interpolation loop at 250 Hz.
const tickInterval = 4 * time.Millisecond

// commandBufferSize bounds the inbox; at ~69 state updates per second a
// full buffer means the mapping thread has stalled, and dropping the
// oldest-pending update is harmless because only the freshest state matters.
const commandBufferSize = 32

type stateCmd struct{ state fusion.ControllerState }
type configCmd struct{ cfg Config }
type keymapCmd struct{ keymap Keymap }

// Mapper runs the engine on a dedicated, locked OS thread. Input injection
// APIs are not safe to call from arbitrary threads, and a steady tick keeps
// cursor motion smooth. Other goroutines talk to it only through the
// bounded command channel.
type Mapper struct {
	engine *Engine
	cmds   chan any

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMapper returns a mapper around a fresh engine.
func NewMapper(act Actuator, cfg Config, keymap Keymap) *Mapper {
	return &Mapper{
		engine: NewEngine(act, cfg, keymap),
		cmds:   make(chan any, commandBufferSize),
		done:   make(chan struct{}),
	}
}

// Start launches the mapping thread. Subsequent calls are no-ops.
func (m *Mapper) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go m.run(ctx)
	})
}

// Stop shuts the mapping thread down and waits for it to exit.
func (m *Mapper) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})
}

// State queues one controller state. It never blocks; when the inbox is
// full the update is dropped in favor of a fresher one.
func (m *Mapper) State(state fusion.ControllerState) {
	select {
	case m.cmds <- stateCmd{state}:
	default:
	}
}

// SetConfig queues a tuning change.
func (m *Mapper) SetConfig(cfg Config) {
	select {
	case m.cmds <- configCmd{cfg}:
	default:
		log.Warn("mapping: config update dropped, inbox full")
	}
}

// SetKeymap queues a binding change.
func (m *Mapper) SetKeymap(keymap Keymap) {
	select {
	case m.cmds <- keymapCmd{keymap}:
	default:
		log.Warn("mapping: keymap update dropped, inbox full")
	}
}

func (m *Mapper) run(ctx context.Context) {
	// The engine and every actuator call stay on this one thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(m.done)

	log.Info("mapping: input thread running")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.drain(now)
			m.engine.Tick(now)
		}
	}
}

// drain applies every pending command without blocking.
func (m *Mapper) drain(now time.Time) {
	for {
		select {
		case cmd := <-m.cmds:
			switch c := cmd.(type) {
			case stateCmd:
				m.engine.Update(c.state, now)
			case configCmd:
				m.engine.SetConfig(c.cfg)
			case keymapCmd:
				m.engine.SetKeymap(c.keymap)
			}
		default:
			return
		}
	}
}
