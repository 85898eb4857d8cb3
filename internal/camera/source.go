package camera

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Source yields encoded JPEG frames from one capture device or network
// stream. Implementations must tolerate repeated Open/Close cycles so a
// stream can reopen a dead device using its original descriptor, and Close
// must be safe to call on a source that never opened.
type Source interface {
	// Open prepares the source for reading. Opening an already open
	// source closes it first, so reopen is a single call.
	Open() error
	// ReadFrame blocks until one complete JPEG frame is available.
	ReadFrame() ([]byte, error)
	// Closed reports whether the source needs a reopen before more reads.
	Closed() bool
	// Close releases the underlying device, process or connection.
	Close() error
}

// maxFrameBuffer caps the scan buffer for sources that emit data but never a
// complete JPEG frame.
const maxFrameBuffer = 8 << 20

// NewSource picks a production source implementation for a descriptor.
// Numeric descriptors are local device indices (/dev/video<N>), HTTP URLs
// pointing at still images are polled, everything else goes through ffmpeg.
func NewSource(descriptor string, width, height int) Source {
	if isHTTPImageEndpoint(descriptor) {
		return NewHTTPImageSource(descriptor)
	}
	return NewFFmpegSource(descriptor, width, height)
}

// isHTTPImageEndpoint checks if the descriptor is an HTTP still-image endpoint
func isHTTPImageEndpoint(descriptor string) bool {
	return (strings.HasPrefix(descriptor, "http://") || strings.HasPrefix(descriptor, "https://")) &&
		(strings.Contains(descriptor, ".jpg") || strings.Contains(descriptor, ".jpeg") || strings.Contains(descriptor, "image"))
}

// FFmpegSource reads frames by running ffmpeg in image2pipe mode and
// splitting the MJPEG byte stream on JPEG markers.
type FFmpegSource struct {
	descriptor string
	device     string
	width      int
	height     int
	fps        int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
	chunk  []byte
	closed bool
}

// NewFFmpegSource creates a source for a device index or stream URI.
func NewFFmpegSource(descriptor string, width, height int) *FFmpegSource {
	device := descriptor
	if idx, err := strconv.Atoi(strings.TrimSpace(descriptor)); err == nil {
		device = fmt.Sprintf("/dev/video%d", idx)
	}

	return &FFmpegSource{
		descriptor: descriptor,
		device:     device,
		width:      width,
		height:     height,
		fps:        30,
		chunk:      make([]byte, 8192),
		closed:     true,
	}
}

// Open starts the ffmpeg process for this source's device.
func (f *FFmpegSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.stopProcess()
	}

	var args []string
	if strings.HasPrefix(f.device, "rtsp://") {
		args = []string{
			"-rtsp_transport", "tcp",
			"-i", f.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", f.fps),
			"-q:v", "5",
			"-",
		}
	} else if strings.HasPrefix(f.device, "http://") || strings.HasPrefix(f.device, "https://") {
		args = []string{
			"-i", f.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", f.fps),
			"-q:v", "5",
			"-",
		}
	} else {
		args = []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", f.width, f.height),
			"-framerate", fmt.Sprintf("%d", f.fps),
			"-i", f.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}

	cmd := exec.Command("ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Consume stderr silently so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	f.cmd = cmd
	f.stdout = stdout
	f.buf = f.buf[:0]
	f.closed = false
	return nil
}

// ReadFrame returns the next complete JPEG frame from the ffmpeg stream.
func (f *FFmpegSource) ReadFrame() ([]byte, error) {
	f.mu.Lock()
	stdout := f.stdout
	closed := f.closed
	f.mu.Unlock()

	if closed || stdout == nil {
		return nil, fmt.Errorf("source %s is closed", f.descriptor)
	}

	for {
		if frame := extractJPEGFrame(&f.buf); frame != nil {
			return frame, nil
		}
		if len(f.buf) > maxFrameBuffer {
			f.buf = f.buf[:0]
			return nil, fmt.Errorf("source %s: no frame boundary in %d bytes", f.descriptor, maxFrameBuffer)
		}

		n, err := stdout.Read(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
		}
		if err != nil {
			f.mu.Lock()
			f.closed = true
			f.mu.Unlock()
			if err == io.EOF {
				return nil, fmt.Errorf("source %s ended", f.descriptor)
			}
			return nil, fmt.Errorf("read source %s: %w", f.descriptor, err)
		}
	}
}

// Closed reports whether the ffmpeg process is gone.
func (f *FFmpegSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close kills the ffmpeg process if it is still running.
func (f *FFmpegSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopProcess()
	return nil
}

// stopProcess must be called with f.mu held.
func (f *FFmpegSource) stopProcess() {
	if f.cmd != nil && f.cmd.Process != nil {
		f.cmd.Process.Kill()
		go f.cmd.Wait()
	}
	f.cmd = nil
	f.stdout = nil
	f.closed = true
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

// HTTPImageSource polls an HTTP endpoint that serves single JPEG images.
type HTTPImageSource struct {
	url      string
	client   *http.Client
	interval time.Duration

	mu       sync.Mutex
	closed   bool
	lastPoll time.Time
}

// NewHTTPImageSource creates a polling source for a still-image URL.
func NewHTTPImageSource(url string) *HTTPImageSource {
	return &HTTPImageSource{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: 100 * time.Millisecond,
		closed:   true,
	}
}

// Open marks the source ready; connectivity is checked by the first read.
func (h *HTTPImageSource) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = false
	return nil
}

// ReadFrame fetches the next image, pacing polls to the configured interval.
func (h *HTTPImageSource) ReadFrame() ([]byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("source %s is closed", h.url)
	}
	if wait := h.interval - time.Since(h.lastPoll); wait > 0 {
		h.mu.Unlock()
		time.Sleep(wait)
		h.mu.Lock()
	}
	h.lastPoll = time.Now()
	h.mu.Unlock()

	resp, err := h.client.Get(h.url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", h.url, resp.StatusCode)
	}

	frame, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBuffer))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.url, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", h.url)
	}
	return frame, nil
}

// Closed reports whether Close was called.
func (h *HTTPImageSource) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close stops further polling.
func (h *HTTPImageSource) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

var (
	_ Source = (*FFmpegSource)(nil)
	_ Source = (*HTTPImageSource)(nil)
)
