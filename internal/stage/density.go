package stage

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"

	"vigil/internal/detection"
	"vigil/internal/geometry"
	"vigil/internal/overlay"
)

const (
	defaultSmoothingWindow  = 5
	defaultOverlapThreshold = 0.35
	defaultAlertThreshold   = 8
)

// DensityConfig holds tuning for the crowd density stage.
type DensityConfig struct {
	SmoothingWindow  int
	OverlapThreshold float64
	AlertThreshold   int
	EnableRotations  bool
}

// DensityStage counts people by running the classifier profiles over each
// frame, upright and rotated ±90°, then de-duplicating the union of mapped
// boxes and smoothing the count per camera.
type DensityStage struct {
	detector  BoxDetector
	window    int
	overlap   float64
	rotations bool

	available atomic.Bool
	threshold atomic.Int32
	processed atomic.Int64

	mu      sync.Mutex
	recent  map[int]*geometry.MedianWindow
	current map[int]int
}

var _ Stage = (*DensityStage)(nil)

// NewDensityStage creates the density stage. Backend availability is decided
// here: when the classification service cannot be probed the stage runs as a
// pass-through for the lifetime of the process.
func NewDensityStage(detector BoxDetector, config DensityConfig) *DensityStage {
	window := config.SmoothingWindow
	if window <= 0 {
		window = defaultSmoothingWindow
	}
	overlap := config.OverlapThreshold
	if overlap <= 0 {
		overlap = defaultOverlapThreshold
	}
	threshold := config.AlertThreshold
	if threshold <= 0 {
		threshold = defaultAlertThreshold
	}

	s := &DensityStage{
		detector:  detector,
		window:    window,
		overlap:   overlap,
		rotations: config.EnableRotations,
		recent:    make(map[int]*geometry.MedianWindow),
		current:   make(map[int]int),
	}
	s.threshold.Store(int32(threshold))

	if detector == nil {
		log.Printf("[DensityStage] No classification backend configured, stage disabled")
	} else if err := detector.CheckHealth(); err != nil {
		log.Printf("[DensityStage] Classification backend unavailable, stage disabled: %v", err)
	} else {
		s.available.Store(true)
	}
	return s
}

// Name returns the stage identifier used in feed URLs and cache keys.
func (s *DensityStage) Name() string { return "density" }

// Available reports whether the classification backend is usable.
func (s *DensityStage) Available() bool { return s.available.Load() }

// AlertThreshold returns the crowd size that raises an alert.
func (s *DensityStage) AlertThreshold() int { return int(s.threshold.Load()) }

// SetAlertThreshold updates the crowd size that raises an alert.
func (s *DensityStage) SetAlertThreshold(threshold int) {
	if threshold > 0 {
		s.threshold.Store(int32(threshold))
	}
}

// Process runs the classifier over the frame and its two rotations, maps
// every candidate box back to upright coordinates, de-duplicates them and
// reports the smoothed people count for the camera.
func (s *DensityStage) Process(cameraID int, frame *image.RGBA) (*image.RGBA, Summary, error) {
	sum := Summary{Stage: s.Name()}
	if frame == nil || !s.available.Load() {
		return frame, sum, nil
	}

	candidates, err := s.collectCandidates(frame)
	if err != nil {
		if errors.Is(err, detection.ErrUnavailable) {
			s.available.Store(false)
			log.Printf("[DensityStage] Classification backend went away, stage disabled: %v", err)
			return frame, sum, nil
		}
		return frame, sum, err
	}

	verified := geometry.NonMaxSuppression(candidates, s.overlap)
	count := s.smoothCount(cameraID, len(verified))
	s.processed.Add(1)

	annotated := overlay.Clone(frame)
	for _, box := range verified {
		overlay.DrawBox(annotated, box.X, box.Y, box.W, box.H, overlay.Blue, 2)
	}

	threshold := s.AlertThreshold()
	sum.PeopleCount = count
	sum.HighDensity = count >= threshold
	sum.Alert = sum.HighDensity
	if sum.Alert {
		sum.Detail = fmt.Sprintf("crowd of %d exceeds threshold %d", count, threshold)
	}
	return annotated, sum, nil
}

// collectCandidates gathers classifier boxes for the upright frame and,
// when enabled, its clockwise and counter-clockwise rotations.
func (s *DensityStage) collectCandidates(frame *image.RGBA) ([]geometry.Box, error) {
	width := frame.Bounds().Dx()
	height := frame.Bounds().Dy()

	rotations := []geometry.Rotation{geometry.RotateNone}
	if s.rotations {
		rotations = append(rotations, geometry.RotateCW, geometry.RotateCCW)
	}

	var candidates []geometry.Box
	for _, rotation := range rotations {
		data, err := overlay.EncodeJPEG(geometry.Rotate90(frame, rotation))
		if err != nil {
			return nil, err
		}
		result, err := s.detector.Classify(data)
		if err != nil {
			return nil, err
		}
		for _, det := range result.Detections {
			box, ok := boxFromBBox(det.BBox)
			if !ok {
				continue
			}
			if rotation != geometry.RotateNone {
				box = geometry.MapRotatedBox(box, rotation, width, height)
			}
			candidates = append(candidates, box)
		}
	}
	return candidates, nil
}

func (s *DensityStage) smoothCount(cameraID, count int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	window, ok := s.recent[cameraID]
	if !ok {
		window = geometry.NewMedianWindow(s.window)
		s.recent[cameraID] = window
	}
	window.Push(count)
	smoothed := window.Median()
	s.current[cameraID] = smoothed
	return smoothed
}

// Count returns the smoothed people count for a camera.
func (s *DensityStage) Count(cameraID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[cameraID]
}

// Counts returns a snapshot of the smoothed counts per camera.
func (s *DensityStage) Counts() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.current))
	for id, count := range s.current {
		out[id] = count
	}
	return out
}

// Reset clears count tracking for a camera.
func (s *DensityStage) Reset(cameraID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if window, ok := s.recent[cameraID]; ok {
		window.Reset()
	}
	s.current[cameraID] = 0
}

// Overlay renders the people count banner, flagging high density.
func (s *DensityStage) Overlay(frame *image.RGBA, sum Summary) *image.RGBA {
	if frame == nil {
		return nil
	}

	overlay.BlendRect(frame, image.Rect(10, 10, 250, 90), overlay.Black, 0.3)
	overlay.DrawText(frame, 20, 40, fmt.Sprintf("People Count: %d", sum.PeopleCount), overlay.White)
	if sum.HighDensity {
		overlay.DrawText(frame, 20, 70, "HIGH DENSITY!", overlay.Red)
		overlay.Border(frame, overlay.Red, 4)
	} else {
		overlay.DrawText(frame, 20, 70, "Normal Density", overlay.Green)
	}
	return frame
}

// Status reports availability, thresholds and per-camera counts.
func (s *DensityStage) Status() map[string]interface{} {
	return map[string]interface{}{
		"available":        s.available.Load(),
		"alert_threshold":  s.AlertThreshold(),
		"frames_processed": s.processed.Load(),
		"counts":           s.Counts(),
	}
}
