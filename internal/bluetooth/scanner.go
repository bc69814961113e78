package bluetooth

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/events"
)

// Scanner discovers controllers. At most one scan task runs at a time;
// starting while one is running is a no-op and Stop waits for the task to
// exit before returning.
type Scanner struct {
	adapter Adapter
	sink    events.Sink

	// MinRSSI drops advertisements weaker than this; 0 disables the filter.
	MinRSSI int16

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	seen   map[string]events.DeviceRecord
}

// NewScanner returns a scanner reporting matches to sink.
func NewScanner(adapter Adapter, sink events.Sink) *Scanner {
	return &Scanner{
		adapter: adapter,
		sink:    sink,
		seen:    make(map[string]events.DeviceRecord),
	}
}

// Start launches the scan task. A scan already in flight is left running.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	log.Info("bluetooth: scanning for controllers")
	go func() {
		defer close(done)
		err := s.adapter.Scan(ctx, s.onAdvertisement)
		if err != nil && ctx.Err() == nil {
			log.Errorf("bluetooth: scan: %v", err)
		}
	}()
}

// Stop cancels a running scan and waits for the task to exit. Stopping an
// idle scanner is a no-op.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scanner) onAdvertisement(adv Advertisement) {
	if !strings.Contains(adv.Name, ControllerNameSubstring) {
		return
	}
	if s.MinRSSI != 0 && adv.RSSI < s.MinRSSI {
		log.Debugf("bluetooth: ignoring %s, rssi %d below threshold", adv.ID, adv.RSSI)
		return
	}

	record := events.DeviceRecord{
		ID:      adv.ID,
		Name:    adv.Name,
		Address: adv.ID,
		RSSI:    adv.RSSI,
	}

	s.mu.Lock()
	_, known := s.seen[adv.ID]
	s.seen[adv.ID] = record
	s.mu.Unlock()

	if !known {
		log.Infof("bluetooth: found %q at %s (rssi %d)", adv.Name, adv.ID, adv.RSSI)
	}
	s.sink.DeviceFound(record)
}

// Devices returns the controllers seen so far, in no particular order.
func (s *Scanner) Devices() []events.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.DeviceRecord, 0, len(s.seen))
	for _, r := range s.seen {
		out = append(out, r)
	}
	return out
}

// Lookup reports whether a device ID has been seen by a scan.
func (s *Scanner) Lookup(id string) (events.DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.seen[id]
	return r, ok
}
