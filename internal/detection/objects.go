package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ObjectDetector is a client for the object detection service used for
// weapon screening.
type ObjectDetector struct {
	endpoint      string
	client        *http.Client
	enabled       bool
	confThreshold float32
	healthy       bool
	lastHealth    time.Time
	mu            sync.RWMutex
}

// ObjectDetectorConfig holds configuration for the object detection service.
type ObjectDetectorConfig struct {
	Enabled             bool
	ServiceEndpoint     string
	ConfidenceThreshold float32
}

// ObjectDetection is a single detected object.
type ObjectDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// ObjectResult is the object detection response for one frame.
type ObjectResult struct {
	Detections      []ObjectDetection `json:"detections"`
	Count           int               `json:"count"`
	InferenceTimeMs float32           `json:"inference_time_ms"`
	Device          string            `json:"device"`
	ConfThreshold   float32           `json:"conf_threshold"`
}

// NewObjectDetector creates a new object detection client.
func NewObjectDetector(config ObjectDetectorConfig) *ObjectDetector {
	threshold := config.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	return &ObjectDetector{
		endpoint:      config.ServiceEndpoint,
		enabled:       config.Enabled,
		confThreshold: threshold,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the service endpoint.
func (od *ObjectDetector) Endpoint() string {
	return od.endpoint
}

// IsEnabled returns whether object detection is enabled.
func (od *ObjectDetector) IsEnabled() bool {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.enabled
}

// SetEnabled enables or disables object detection.
func (od *ObjectDetector) SetEnabled(enabled bool) {
	od.mu.Lock()
	defer od.mu.Unlock()
	od.enabled = enabled
}

// ConfidenceThreshold returns the configured confidence floor.
func (od *ObjectDetector) ConfidenceThreshold() float32 {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.confThreshold
}

// IsHealthy returns the last recorded health state.
func (od *ObjectDetector) IsHealthy() bool {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.healthy
}

// CheckHealth probes the object detection service and records the result.
func (od *ObjectDetector) CheckHealth() error {
	resp, err := od.client.Get(od.endpoint + "/health")
	if err != nil {
		od.mu.Lock()
		od.healthy = false
		od.mu.Unlock()
		return fmt.Errorf("%w: health check failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		od.mu.Lock()
		od.healthy = false
		od.mu.Unlock()
		return fmt.Errorf("%w: health check returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var health ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		od.mu.Lock()
		od.healthy = false
		od.mu.Unlock()
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "healthy" || !health.ModelLoaded {
		od.mu.Lock()
		od.healthy = false
		od.mu.Unlock()
		return fmt.Errorf("%w: status=%s, model_loaded=%v", ErrUnavailable, health.Status, health.ModelLoaded)
	}

	od.mu.Lock()
	od.healthy = true
	od.lastHealth = time.Now()
	od.mu.Unlock()
	return nil
}

// ensureHealthy gates a detect call on a recent successful health probe.
func (od *ObjectDetector) ensureHealthy() error {
	od.mu.RLock()
	enabled := od.enabled
	fresh := od.healthy && time.Since(od.lastHealth) < healthCacheTTL
	od.mu.RUnlock()

	if !enabled {
		return ErrUnavailable
	}
	if fresh {
		return nil
	}
	return od.CheckHealth()
}

// DetectObjects runs object detection on a frame, keeping detections at or
// above the configured confidence threshold.
func (od *ObjectDetector) DetectObjects(imageData []byte) (*ObjectResult, error) {
	if err := od.ensureHealthy(); err != nil {
		return nil, err
	}

	od.mu.RLock()
	threshold := od.confThreshold
	od.mu.RUnlock()

	fields := map[string]string{
		"conf_threshold": fmt.Sprintf("%.3f", threshold),
	}
	body, err := postImage(od.client, od.endpoint+"/detect", imageData, fields)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			od.mu.Lock()
			od.healthy = false
			od.mu.Unlock()
		}
		return nil, err
	}

	var result ObjectResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	return &result, nil
}
