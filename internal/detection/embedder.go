package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// FaceEmbedder is a client for the face embedding service, which detects
// faces in a frame and returns an L2-normalized signature vector per face.
type FaceEmbedder struct {
	endpoint   string
	client     *http.Client
	enabled    bool
	healthy    bool
	lastHealth time.Time
	mu         sync.RWMutex
}

// FaceEmbedderConfig holds configuration for the embedding service.
type FaceEmbedderConfig struct {
	Enabled         bool
	ServiceEndpoint string
}

// EmbeddedFace is one detected face with its signature vector.
type EmbeddedFace struct {
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
	Confidence float32   `json:"confidence"`
	Signature  []float32 `json:"signature"`
}

// EmbedResult is the embedding response for one frame.
type EmbedResult struct {
	Faces           []EmbeddedFace `json:"faces"`
	Count           int            `json:"count"`
	InferenceTimeMs float32        `json:"inference_time_ms"`
	Device          string         `json:"device"`
}

// NewFaceEmbedder creates a new embedding client.
func NewFaceEmbedder(config FaceEmbedderConfig) *FaceEmbedder {
	return &FaceEmbedder{
		endpoint: config.ServiceEndpoint,
		enabled:  config.Enabled,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the service endpoint.
func (fe *FaceEmbedder) Endpoint() string {
	return fe.endpoint
}

// IsEnabled returns whether face embedding is enabled.
func (fe *FaceEmbedder) IsEnabled() bool {
	fe.mu.RLock()
	defer fe.mu.RUnlock()
	return fe.enabled
}

// SetEnabled enables or disables face embedding.
func (fe *FaceEmbedder) SetEnabled(enabled bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.enabled = enabled
}

// IsHealthy returns the last recorded health state.
func (fe *FaceEmbedder) IsHealthy() bool {
	fe.mu.RLock()
	defer fe.mu.RUnlock()
	return fe.healthy
}

// CheckHealth probes the embedding service and records the result.
func (fe *FaceEmbedder) CheckHealth() error {
	resp, err := fe.client.Get(fe.endpoint + "/health")
	if err != nil {
		fe.mu.Lock()
		fe.healthy = false
		fe.mu.Unlock()
		return fmt.Errorf("%w: health check failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fe.mu.Lock()
		fe.healthy = false
		fe.mu.Unlock()
		return fmt.Errorf("%w: health check returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var health ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fe.mu.Lock()
		fe.healthy = false
		fe.mu.Unlock()
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "healthy" || !health.ModelLoaded {
		fe.mu.Lock()
		fe.healthy = false
		fe.mu.Unlock()
		return fmt.Errorf("%w: status=%s, model_loaded=%v", ErrUnavailable, health.Status, health.ModelLoaded)
	}

	fe.mu.Lock()
	fe.healthy = true
	fe.lastHealth = time.Now()
	fe.mu.Unlock()
	return nil
}

// ensureHealthy gates an embed call on a recent successful health probe.
func (fe *FaceEmbedder) ensureHealthy() error {
	fe.mu.RLock()
	enabled := fe.enabled
	fresh := fe.healthy && time.Since(fe.lastHealth) < healthCacheTTL
	fe.mu.RUnlock()

	if !enabled {
		return ErrUnavailable
	}
	if fresh {
		return nil
	}
	return fe.CheckHealth()
}

// EmbedFaces detects every face in a frame and returns their signatures.
func (fe *FaceEmbedder) EmbedFaces(imageData []byte) (*EmbedResult, error) {
	if err := fe.ensureHealthy(); err != nil {
		return nil, err
	}

	body, err := postImage(fe.client, fe.endpoint+"/embed", imageData, nil)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			fe.mu.Lock()
			fe.healthy = false
			fe.mu.Unlock()
		}
		return nil, err
	}

	var result EmbedResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	return &result, nil
}
