package stage

import (
	"errors"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/detection"
	"vigil/internal/overlay"
)

const (
	defaultThreatCacheTTL      = 400 * time.Millisecond
	defaultThreatConfThreshold = 0.25
)

// DefaultTargetClasses are the object classes screened for when none are
// configured.
var DefaultTargetClasses = []string{"knife", "gun"}

// targetKeywords expands a target class into the label keywords treated as
// the same threat.
var targetKeywords = map[string][]string{
	"gun":   {"gun", "pistol", "firearm", "revolver", "handgun", "weapon"},
	"knife": {"knife", "dagger", "blade", "sword", "weapon"},
}

// ThreatConfig holds tuning for the weapon screening stage.
type ThreatConfig struct {
	ConfidenceThreshold float32
	TargetClasses       []string
	CacheTTL            time.Duration
}

// ThreatStage screens frames for weapons. Inference requests are serialized
// and results are cached briefly per camera so concurrent viewers do not
// stack up duplicate backend work.
type ThreatStage struct {
	finder        ObjectFinder
	confThreshold float32
	targets       []string
	cacheTTL      time.Duration

	available atomic.Bool
	processed atomic.Int64

	inferenceMu sync.Mutex
	cacheMu     sync.Mutex
	cache       map[int]*threatCacheEntry
}

// threatCacheEntry is immutable once stored.
type threatCacheEntry struct {
	frame     *image.RGBA
	found     bool
	weapons   []Weapon
	timestamp time.Time
}

var _ Stage = (*ThreatStage)(nil)

// NewThreatStage creates the weapon screening stage. Backend availability
// is decided here.
func NewThreatStage(finder ObjectFinder, config ThreatConfig) *ThreatStage {
	threshold := config.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultThreatConfThreshold
	}
	targets := config.TargetClasses
	if len(targets) == 0 {
		targets = DefaultTargetClasses
	}
	normalized := make([]string, len(targets))
	for i, target := range targets {
		normalized[i] = strings.ToLower(target)
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = defaultThreatCacheTTL
	}

	s := &ThreatStage{
		finder:        finder,
		confThreshold: threshold,
		targets:       normalized,
		cacheTTL:      ttl,
		cache:         make(map[int]*threatCacheEntry),
	}
	if finder == nil {
		log.Printf("[ThreatStage] No object detection backend configured, stage disabled")
	} else if err := finder.CheckHealth(); err != nil {
		log.Printf("[ThreatStage] Object detection backend unavailable, stage disabled: %v", err)
	} else {
		s.available.Store(true)
	}
	return s
}

// Name returns the stage identifier used in feed URLs and cache keys.
func (s *ThreatStage) Name() string { return "threat" }

// Available reports whether the object detection backend is usable.
func (s *ThreatStage) Available() bool { return s.available.Load() }

// ConfidenceThreshold returns the configured confidence floor.
func (s *ThreatStage) ConfidenceThreshold() float32 { return s.confThreshold }

// Process screens one frame, serving a cached result when the camera was
// screened within the cache TTL. Cached frames are returned as copies.
func (s *ThreatStage) Process(cameraID int, frame *image.RGBA) (*image.RGBA, Summary, error) {
	sum := Summary{Stage: s.Name()}
	if frame == nil || !s.available.Load() {
		return frame, sum, nil
	}

	if entry := s.cachedEntry(cameraID); entry != nil {
		return overlay.Clone(entry.frame), s.summaryFor(entry), nil
	}

	data, err := overlay.EncodeJPEG(frame)
	if err != nil {
		return frame, sum, err
	}

	s.inferenceMu.Lock()
	result, err := s.finder.DetectObjects(data)
	s.inferenceMu.Unlock()
	if err != nil {
		if errors.Is(err, detection.ErrUnavailable) {
			s.available.Store(false)
			log.Printf("[ThreatStage] Object detection backend went away, stage disabled: %v", err)
			return frame, sum, nil
		}
		return frame, sum, err
	}
	s.processed.Add(1)

	annotated := overlay.Clone(frame)
	var weapons []Weapon
	for _, det := range result.Detections {
		if det.Confidence < s.confThreshold {
			continue
		}
		if !s.isTargetClass(det.Class) {
			continue
		}
		box, ok := boxFromBBox(det.BBox)
		if !ok {
			continue
		}
		weapons = append(weapons, Weapon{Class: det.Class, Confidence: det.Confidence, Box: box})
		overlay.DrawBox(annotated, box.X, box.Y, box.W, box.H, overlay.Red, 3)
		label := fmt.Sprintf("%s %.2f", strings.ToUpper(det.Class), det.Confidence)
		overlay.DrawLabel(annotated, box.X, box.Y-5, label, overlay.White)
	}

	entry := &threatCacheEntry{
		frame:     overlay.Clone(annotated),
		found:     len(weapons) > 0,
		weapons:   weapons,
		timestamp: time.Now(),
	}
	s.cacheMu.Lock()
	s.cache[cameraID] = entry
	s.cacheMu.Unlock()

	return annotated, s.summaryFor(entry), nil
}

// cachedEntry returns the camera's cache entry when it is still fresh.
func (s *ThreatStage) cachedEntry(cameraID int) *threatCacheEntry {
	s.cacheMu.Lock()
	entry, ok := s.cache[cameraID]
	s.cacheMu.Unlock()
	if !ok || time.Since(entry.timestamp) > s.cacheTTL {
		return nil
	}
	return entry
}

func (s *ThreatStage) summaryFor(entry *threatCacheEntry) Summary {
	sum := Summary{Stage: s.Name(), WeaponFound: entry.found}
	if len(entry.weapons) > 0 {
		sum.Weapons = make([]Weapon, len(entry.weapons))
		copy(sum.Weapons, entry.weapons)
		sum.Alert = true
		sum.Detail = fmt.Sprintf("weapon detected: %s (%.2f)", entry.weapons[0].Class, entry.weapons[0].Confidence)
	}
	return sum
}

// isTargetClass reports whether a detection label matches a screened class,
// either exactly or through its keyword expansion.
func (s *ThreatStage) isTargetClass(label string) bool {
	label = strings.ToLower(label)
	for _, target := range s.targets {
		if label == target {
			return true
		}
		keywords, ok := targetKeywords[target]
		if !ok {
			keywords = []string{target}
		}
		for _, keyword := range keywords {
			if strings.Contains(label, keyword) {
				return true
			}
		}
	}
	return false
}

// Overlay renders the alert banner or the all-clear status box.
func (s *ThreatStage) Overlay(frame *image.RGBA, sum Summary) *image.RGBA {
	if frame == nil {
		return nil
	}

	width := frame.Bounds().Dx()
	if sum.WeaponFound {
		overlay.Border(frame, overlay.Red, 8)
		overlay.BlendRect(frame, image.Rect(0, 0, width, 80), overlay.Red, 0.3)
		overlay.DrawText(frame, max(width/2-200, 10), 50, "ALERT: WEAPON DETECTED!", overlay.White)
		y := 100
		for _, weapon := range sum.Weapons {
			text := fmt.Sprintf("%s: %.1f%%", strings.ToUpper(weapon.Class), weapon.Confidence*100)
			overlay.DrawText(frame, 20, y, text, overlay.Red)
			y += 30
		}
	} else {
		overlay.BlendRect(frame, image.Rect(10, 10, 250, 60), overlay.Black, 0.3)
		overlay.DrawText(frame, 20, 45, "Status: CLEAR", overlay.Green)
	}
	return frame
}

// Status reports availability and screening configuration.
func (s *ThreatStage) Status() map[string]interface{} {
	return map[string]interface{}{
		"available":            s.available.Load(),
		"confidence_threshold": s.confThreshold,
		"target_classes":       s.targets,
		"frames_processed":     s.processed.Load(),
	}
}
