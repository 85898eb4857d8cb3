package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultProfiles are the classifier profiles run when none are configured.
var DefaultProfiles = []string{"frontalface_default", "frontalface_alt", "frontalface_alt2"}

// Classifier is a client for the cascade classification service. One request
// runs every configured profile over the uploaded frame and returns the
// union of candidate boxes, tagged with the profile that produced them.
type Classifier struct {
	endpoint   string
	client     *http.Client
	profiles   []string
	enabled    bool
	healthy    bool
	lastHealth time.Time
	mu         sync.RWMutex
}

// ClassifierConfig holds configuration for the classification service.
type ClassifierConfig struct {
	Enabled         bool
	ServiceEndpoint string
	Profiles        []string
}

// ClassifierDetection is a single candidate box from one profile.
type ClassifierDetection struct {
	Profile    string    `json:"profile"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
	Confidence float32   `json:"confidence"`
}

// ClassifierResult is the classification response for one frame.
type ClassifierResult struct {
	Detections      []ClassifierDetection `json:"detections"`
	Count           int                   `json:"count"`
	InferenceTimeMs float32               `json:"inference_time_ms"`
	Device          string                `json:"device"`
}

// NewClassifier creates a new classification client.
func NewClassifier(config ClassifierConfig) *Classifier {
	profiles := config.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}

	return &Classifier{
		endpoint: config.ServiceEndpoint,
		enabled:  config.Enabled,
		profiles: profiles,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Profiles returns the configured classifier profiles.
func (c *Classifier) Profiles() []string {
	out := make([]string, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Endpoint returns the service endpoint.
func (c *Classifier) Endpoint() string {
	return c.endpoint
}

// IsEnabled returns whether classification is enabled.
func (c *Classifier) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled enables or disables classification.
func (c *Classifier) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsHealthy returns the last recorded health state.
func (c *Classifier) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// CheckHealth probes the classification service and records the result.
func (c *Classifier) CheckHealth() error {
	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return fmt.Errorf("%w: health check failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return fmt.Errorf("%w: health check returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var health ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "healthy" || !health.ModelLoaded {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return fmt.Errorf("%w: status=%s, model_loaded=%v", ErrUnavailable, health.Status, health.ModelLoaded)
	}

	c.mu.Lock()
	c.healthy = true
	c.lastHealth = time.Now()
	c.mu.Unlock()
	return nil
}

// ensureHealthy gates a detect call on a recent successful health probe.
func (c *Classifier) ensureHealthy() error {
	c.mu.RLock()
	enabled := c.enabled
	fresh := c.healthy && time.Since(c.lastHealth) < healthCacheTTL
	c.mu.RUnlock()

	if !enabled {
		return ErrUnavailable
	}
	if fresh {
		return nil
	}
	return c.CheckHealth()
}

// Classify runs the configured profiles over a frame and returns every
// candidate box they produce.
func (c *Classifier) Classify(imageData []byte) (*ClassifierResult, error) {
	if err := c.ensureHealthy(); err != nil {
		return nil, err
	}

	fields := map[string]string{
		"profiles": strings.Join(c.profiles, ","),
	}
	body, err := postImage(c.client, c.endpoint+"/classify", imageData, fields)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			c.mu.Lock()
			c.healthy = false
			c.mu.Unlock()
		}
		return nil, err
	}

	var result ClassifierResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode classify response: %w", err)
	}
	return &result, nil
}
