// Package sensor watches host resources and store internals so the
// indexer can shed load before pebble falls behind.
package sensor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Snapshot is a best-effort view of the resources the store monitor
// bases throttling decisions on. Disk fields are zero when statfs fails.
type Snapshot struct {
	Timestamp time.Time

	// Go runtime heap, bytes.
	MemTotal uint64
	MemUsed  uint64

	// Volume holding the DB path, bytes.
	DiskTotal uint64
	DiskFree  uint64
}

// ThrottleRequest is an advisory signal for components that want others
// to back off. Severity runs [0..1] with 1 most urgent.
type ThrottleRequest struct {
	Source   string
	Reason   string
	Severity float64
}

// Sensor polls host resources and exposes the latest Snapshot, plus a
// small pub/sub for throttle requests.
type Sensor struct {
	mu       sync.RWMutex
	snap     Snapshot
	diskPath string
	interval time.Duration

	thMu     sync.RWMutex
	handlers []func(ThrottleRequest)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sensor that samples every interval. diskPath names the
// volume to watch, normally the DB path.
func New(diskPath string, interval time.Duration) *Sensor {
	s := &Sensor{diskPath: diskPath, interval: interval}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start begins background polling. Call Stop to terminate.
func (s *Sensor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		// warm initial sample
		s.sample()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop stops polling and waits for the loop to exit.
func (s *Sensor) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Snapshot returns the most recent sample.
func (s *Sensor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// RegisterThrottleHandler registers a callback for throttle requests.
// Handlers run asynchronously.
func (s *Sensor) RegisterThrottleHandler(h func(ThrottleRequest)) {
	s.thMu.Lock()
	defer s.thMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// SendThrottle emits a throttle request to registered handlers,
// non-blocking and best-effort.
func (s *Sensor) SendThrottle(req ThrottleRequest) {
	s.thMu.RLock()
	handlers := append([]func(ThrottleRequest){}, s.handlers...)
	s.thMu.RUnlock()
	for _, h := range handlers {
		go func(cb func(ThrottleRequest)) {
			// small timeout so a wedged handler cannot pile up goroutines
			done := make(chan struct{})
			go func() {
				cb(req)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(250 * time.Millisecond):
			}
		}(h)
	}
}

func (s *Sensor) sample() {
	snap := Snapshot{Timestamp: time.Now()}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	snap.MemTotal = m.Sys
	snap.MemUsed = m.HeapInuse

	var st unix.Statfs_t
	if err := unix.Statfs(s.diskPath, &st); err == nil {
		snap.DiskTotal = st.Blocks * uint64(st.Bsize)
		snap.DiskFree = st.Bavail * uint64(st.Bsize)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
