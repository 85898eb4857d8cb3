package camera

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxConsecutiveFailures is how many failed reads in a row a stream
	// tolerates before it logs, backs off and starts counting again.
	maxConsecutiveFailures = 10

	defaultReadInterval   = 10 * time.Millisecond
	defaultFailureBackoff = time.Second
	defaultReopenDelay    = time.Second
	defaultJoinTimeout    = 2 * time.Second
)

// Stream owns a single camera source and keeps its latest frame available to
// any number of concurrent readers without ever blocking the capture loop.
type Stream struct {
	ID         int
	Name       string
	Descriptor string
	Width      int
	Height     int

	source  Source
	running atomic.Bool
	done    chan struct{}

	frameMu    sync.RWMutex
	frame      []byte
	lastUpdate time.Time

	statsMu    sync.Mutex
	failures   int
	frames     uint64
	reconnects uint64

	lifecycleMu sync.Mutex

	readInterval   time.Duration
	failureBackoff time.Duration
	reopenDelay    time.Duration
	joinTimeout    time.Duration
}

// NewStream creates a stream around an already constructed source. The
// source is not opened until Start.
func NewStream(id int, name, descriptor string, source Source, width, height int) *Stream {
	return &Stream{
		ID:             id,
		Name:           name,
		Descriptor:     descriptor,
		Width:          width,
		Height:         height,
		source:         source,
		readInterval:   defaultReadInterval,
		failureBackoff: defaultFailureBackoff,
		reopenDelay:    defaultReopenDelay,
		joinTimeout:    defaultJoinTimeout,
	}
}

// Start opens the source and launches the acquisition loop. A failure to
// open is reported as false, never as a panic, so one dead camera cannot
// take down registry bring-up. Starting a running stream is a no-op true.
func (s *Stream) Start() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return true
	}

	if err := s.source.Open(); err != nil {
		log.Printf("[CameraStream] Failed to open camera %d (%s): %v", s.ID, s.Descriptor, err)
		return false
	}

	s.done = make(chan struct{})
	s.running.Store(true)
	go s.captureLoop()

	log.Printf("[CameraStream] Started %s (ID: %d)", s.Name, s.ID)
	return true
}

// captureLoop continuously reads frames until the stream is stopped.
func (s *Stream) captureLoop() {
	defer close(s.done)

	for s.running.Load() {
		if s.source.Closed() {
			log.Printf("[CameraStream] %s disconnected, attempting reconnect...", s.Name)
			s.source.Close()
			if err := s.source.Open(); err == nil {
				s.statsMu.Lock()
				s.reconnects++
				s.statsMu.Unlock()
			}
			time.Sleep(s.reopenDelay)
			continue
		}

		frame, err := s.source.ReadFrame()
		if err != nil || len(frame) == 0 {
			s.statsMu.Lock()
			s.failures++
			n := s.failures
			s.statsMu.Unlock()

			if n >= maxConsecutiveFailures {
				log.Printf("[CameraStream] %s failed to read frame", s.Name)
				time.Sleep(s.failureBackoff)
				s.statsMu.Lock()
				s.failures = 0
				s.statsMu.Unlock()
			}
			continue
		}

		s.statsMu.Lock()
		s.failures = 0
		s.frames++
		s.statsMu.Unlock()

		// The source may reuse its read buffer and readers keep copies
		// of whatever was published, so the slot gets its own copy.
		buf := make([]byte, len(frame))
		copy(buf, frame)

		s.frameMu.Lock()
		s.frame = buf
		s.lastUpdate = time.Now()
		s.frameMu.Unlock()

		time.Sleep(s.readInterval)
	}
}

// Read returns a copy of the latest frame, or false when no frame has
// arrived yet. It never blocks on the capture loop.
func (s *Stream) Read() ([]byte, bool) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()

	if s.frame == nil {
		return nil, false
	}
	frame := make([]byte, len(s.frame))
	copy(frame, s.frame)
	return frame, true
}

// LastUpdate returns when the latest frame was captured.
func (s *Stream) LastUpdate() time.Time {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.lastUpdate
}

// IsRunning reports whether the acquisition loop is active.
func (s *Stream) IsRunning() bool {
	return s.running.Load()
}

// ConsecutiveFailures returns the current run of failed reads.
func (s *Stream) ConsecutiveFailures() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.failures
}

// FramesCaptured returns how many frames the loop has stored.
func (s *Stream) FramesCaptured() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.frames
}

// Reconnects returns how many times the source was reopened.
func (s *Stream) Reconnects() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.reconnects
}

// Stop halts the acquisition loop, waiting a bounded time for it to finish,
// and releases the source. A loop stuck in a device read is abandoned after
// the timeout; the source is closed either way, which unblocks it
// eventually. Safe to call on a stream that never started.
func (s *Stream) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		if s.source != nil {
			s.source.Close()
		}
		return
	}

	select {
	case <-s.done:
	case <-time.After(s.joinTimeout):
		log.Printf("[CameraStream] %s capture loop did not stop in time, abandoning", s.Name)
	}

	s.source.Close()
	log.Printf("[CameraStream] Stopped %s", s.Name)
}
