// Package stream serves processed camera output over HTTP, as a multipart
// MJPEG feed or a single snapshot. Frames are pulled from the pipeline per
// client at a fixed rate; the frame cache collapses concurrent viewers of
// the same camera and stage into one computation.
package stream

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"vigil/internal/pipeline"
	"vigil/internal/stage"
)

// DefaultFPS is the target frame rate for MJPEG feeds.
const DefaultFPS = 30

// Renderer produces a processed JPEG for one camera and stage.
type Renderer interface {
	Render(cameraID int, stageName string) ([]byte, stage.Summary, error)
}

var _ Renderer = (*pipeline.Orchestrator)(nil)

// Streamer writes MJPEG feeds and snapshots from a renderer.
type Streamer struct {
	renderer Renderer
	interval time.Duration
	active   atomic.Int64
}

// NewStreamer builds a streamer pulling at fps frames per second.
func NewStreamer(renderer Renderer, fps int) *Streamer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Streamer{
		renderer: renderer,
		interval: time.Second / time.Duration(fps),
	}
}

// ActiveStreams returns the number of connected MJPEG clients.
func (s *Streamer) ActiveStreams() int64 {
	return s.active.Load()
}

// ServeFeed streams multipart JPEG parts until the client disconnects.
func (s *Streamer) ServeFeed(w http.ResponseWriter, r *http.Request, cameraID int, stageName string) {
	frame, _, err := s.renderer.Render(cameraID, stageName)
	if err != nil {
		writeRenderError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.active.Add(1)
	defer s.active.Add(-1)
	log.Printf("[Stream] Client connected to camera %d (%s)", cameraID, stageName)
	defer log.Printf("[Stream] Client disconnected from camera %d (%s)", cameraID, stageName)

	if !writePart(w, flusher, frame) {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, _, err := s.renderer.Render(cameraID, stageName)
			if err != nil {
				return
			}
			if !writePart(w, flusher, frame) {
				return
			}
		}
	}
}

// ServeSnapshot writes a single processed JPEG.
func (s *Streamer) ServeSnapshot(w http.ResponseWriter, r *http.Request, cameraID int, stageName string) {
	frame, _, err := s.renderer.Render(cameraID, stageName)
	if err != nil {
		writeRenderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}

// writePart writes one MJPEG part. A false return means the client is gone.
func writePart(w http.ResponseWriter, flusher http.Flusher, frame []byte) bool {
	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
	if _, err := w.Write(frame); err != nil {
		return false
	}
	fmt.Fprintf(w, "\r\n")
	flusher.Flush()
	return true
}

func writeRenderError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrUnknownStage) {
		http.Error(w, "Unknown stage", http.StatusNotFound)
		return
	}
	http.Error(w, "No frame available", http.StatusServiceUnavailable)
}
