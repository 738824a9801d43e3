package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Track-style tracing for internal operations (store access, drain
// cycles) that run outside any HTTP request. Each op name gets its own
// jsonl file under the telemetry dir. Tracking is a no-op until Init is
// called, so library code can Track unconditionally.

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	lastMark time.Time
	tracker  *Tracker
}

// Tracker manages async writing of traces to per-op files.
type Tracker struct {
	dir              string
	mu               sync.Mutex
	files            map[string]*os.File
	buffers          map[string]*bufio.Writer
	traces           chan *Trace
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	flushInt         time.Duration
	maxFileSizeBytes int64
	bufferSize       int
}

var tracker *Tracker

// Init initializes the global tracker instance.
func Init(dir string, bufferSize, queueCapacity int, flushInterval time.Duration, maxFileSize int64) {
	tracker, _ = NewTracker(dir, bufferSize, queueCapacity, flushInterval, maxFileSize)
}

// Track starts a new trace using the global tracker. Safe to call before
// Init; the returned trace is then inert.
func Track(name string) *Trace {
	if tracker == nil {
		return &Trace{Name: name, Start: time.Now(), lastMark: time.Now()}
	}
	return tracker.Track(name)
}

// Close stops the global tracker instance.
func Close() {
	if tracker != nil {
		tracker.Close()
		tracker = nil
	}
}

// NewTracker creates a tracker with an async background writer.
func NewTracker(dir string, bufferSize, queueCapacity int, flushInterval time.Duration, maxFileSize int64) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	t := &Tracker{
		dir:              dir,
		files:            make(map[string]*os.File),
		buffers:          make(map[string]*bufio.Writer),
		traces:           make(chan *Trace, queueCapacity),
		stopCh:           make(chan struct{}),
		flushInt:         flushInterval,
		maxFileSizeBytes: maxFileSize,
		bufferSize:       bufferSize,
	}
	t.wg.Add(1)
	go t.writerLoop()
	return t, nil
}

// Track starts a new trace that is automatically linked to this tracker.
func (t *Tracker) Track(name string) *Trace {
	now := time.Now()
	return &Trace{
		Name:     name,
		Start:    now,
		lastMark: now,
		tracker:  t,
	}
}

// Mark records the elapsed duration since last mark.
func (tr *Trace) Mark(label string) {
	now := time.Now()
	delta := now.Sub(tr.lastMark).Seconds() * 1000
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: delta})
	tr.lastMark = now
}

// Finish finalizes the trace and enqueues it for background writing.
// Safe to call multiple times or via defer.
func (tr *Trace) Finish() {
	if tr.tracker == nil {
		return
	}
	tr.TotalMS = time.Since(tr.Start).Seconds() * 1000

	// account for time not captured in marks
	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
	}
	remaining := tr.TotalMS - sum
	if remaining > 0.001 { // threshold to avoid noise
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: remaining})
	}

	select {
	case tr.tracker.traces <- tr:
	default:
		// drop if queue full to avoid blocking the hot path
	}
	tr.tracker = nil // prevent re-send on multiple Finish() calls
}

func (t *Tracker) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.flushInt)
	defer ticker.Stop()

	for {
		select {
		case tr := <-t.traces:
			if tr == nil {
				continue
			}
			data, err := json.Marshal(tr)
			if err != nil {
				continue
			}
			t.mu.Lock()
			b := t.getBufferFor(tr.Name)
			b.Write(data)
			b.WriteByte('\n')
			t.mu.Unlock()

		case <-ticker.C:
			t.mu.Lock()
			for name, b := range t.buffers {
				b.Flush()
				f := t.files[name]
				if fi, err := f.Stat(); err == nil && fi.Size() > t.maxFileSizeBytes {
					// truncate and recreate file when > max size
					f.Close()
					os.Remove(f.Name())
					newF, _ := os.OpenFile(f.Name(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
					t.files[name] = newF
					t.buffers[name] = bufio.NewWriterSize(newF, t.bufferSize)
					fmt.Fprintf(os.Stderr, "telemetry: truncated %s (size exceeded %d bytes)\n", name, t.maxFileSizeBytes)
				}
			}
			t.mu.Unlock()

		case <-t.stopCh:
			t.mu.Lock()
			for _, b := range t.buffers {
				b.Flush()
			}
			for _, f := range t.files {
				f.Sync()
				f.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

func (t *Tracker) getBufferFor(op string) *bufio.Writer {
	if b, ok := t.buffers[op]; ok {
		return b
	}
	path := filepath.Join(t.dir, fmt.Sprintf("%s.jsonl", op))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to open %s: %v\n", path, err)
		return bufio.NewWriter(os.Stdout)
	}
	b := bufio.NewWriterSize(f, t.bufferSize)
	t.files[op] = f
	t.buffers[op] = b
	return b
}

// Close stops background writer and flushes all remaining data.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}
