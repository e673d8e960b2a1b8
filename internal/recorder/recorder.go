package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/metrics"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes monitor updates to a JSON Lines file
type Recorder struct {
	// opMu serializes Start and Stop so a new file is never installed
	// while the previous one is still being flushed.
	opMu         sync.Mutex
	mu           sync.RWMutex
	file         *os.File
	writer       *bufio.Writer
	filename     string
	basePath     string
	recording    bool
	eventCount   uint64
	bytesWritten uint64
	startTime    time.Time
	updateChan   chan monitor.Update
	stopChan     chan struct{}
	wg           sync.WaitGroup

	metrics *metrics.Metrics
	log     logger.Module
}

// NewRecorder creates a new recorder writing under basePath
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	if m == nil {
		m = metrics.New()
	}
	return &Recorder{
		basePath: basePath,
		metrics:  m,
		log:      logger.For("Recorder"),
	}
}

// Start starts recording to a new file. An empty name picks a timestamped one.
func (r *Recorder) Start(name string) (string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if name == "" {
		name = fmt.Sprintf("recording_%s.jsonl", time.Now().Format("20060102_150405"))
	}
	name = filepath.Base(name)

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(r.basePath, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.writer = bufio.NewWriter(file)
	r.filename = path
	r.recording = true
	r.eventCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.updateChan = make(chan monitor.Update, 256)
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeUpdates(r.updateChan, r.stopChan)

	r.metrics.SetRecording(true)
	r.log.Info("Recording to %s", path)
	return path, nil
}

// Stop stops recording and returns the file path
func (r *Recorder) Stop() (string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.SetRecording(false)

	path := r.filename
	if r.file != nil {
		if err := r.writer.Flush(); err != nil {
			return path, fmt.Errorf("failed to flush file: %w", err)
		}
		if err := r.file.Sync(); err != nil {
			return path, fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return path, fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
		r.writer = nil
	}
	r.log.Info("Recording stopped: %s (%d updates)", path, r.eventCount)
	return path, nil
}

// Listener returns a monitor.Listener feeding this recorder.
func (r *Recorder) Listener() monitor.Listener {
	return func(u monitor.Update) { r.Send(u) }
}

// Send queues u for writing (non-blocking). It reports false when not
// recording or when the queue is full.
func (r *Recorder) Send(u monitor.Update) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	select {
	case r.updateChan <- u:
		return true
	default:
		r.metrics.RecorderErrors.Add(1)
		return false
	}
}

func (r *Recorder) writeUpdates(updates <-chan monitor.Update, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case u := <-updates:
			r.writeUpdate(u)
		case <-stop:
			// Drain remaining updates
			for {
				select {
				case u := <-updates:
					r.writeUpdate(u)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeUpdate(u monitor.Update) {
	line, err := json.Marshal(u)
	if err != nil {
		r.metrics.RecorderErrors.Add(1)
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}
	n, err := r.writer.Write(line)
	if err != nil {
		r.metrics.RecorderErrors.Add(1)
		r.log.Warn("Write failed: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.eventCount++
	r.metrics.RecordingBytes.Add(uint64(n))
	r.metrics.RecordingEvents.Add(1)
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		EventCount:   r.eventCount,
		BytesWritten: r.bytesWritten,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// Status holds the current recording status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename,omitempty"`
	EventCount   uint64    `json:"event_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
