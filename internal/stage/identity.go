package stage

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"sync/atomic"

	"vigil/internal/detection"
	"vigil/internal/overlay"
)

const (
	minMatchThreshold     = 0.4
	maxMatchThreshold     = 0.9
	defaultMatchThreshold = 0.65
)

// IdentityConfig holds tuning for the identity matching stage.
type IdentityConfig struct {
	MatchThreshold float32
}

// IdentityStage matches faces in the frame against a single reference
// signature uploaded at runtime. Without a reference it passes frames
// through untouched.
type IdentityStage struct {
	signer    FaceSigner
	threshold float32

	available atomic.Bool
	processed atomic.Int64

	mu      sync.RWMutex
	refSig  []float32
	refName string
}

var _ Stage = (*IdentityStage)(nil)

// NewIdentityStage creates the identity stage. The match threshold is
// clamped into [0.4, 0.9]; backend availability is decided here.
func NewIdentityStage(signer FaceSigner, config IdentityConfig) *IdentityStage {
	threshold := config.MatchThreshold
	if threshold <= 0 {
		threshold = defaultMatchThreshold
	}
	threshold = min(max(threshold, minMatchThreshold), maxMatchThreshold)

	s := &IdentityStage{
		signer:    signer,
		threshold: threshold,
		refName:   "Unknown",
	}
	if signer == nil {
		log.Printf("[IdentityStage] No embedding backend configured, stage disabled")
	} else if err := signer.CheckHealth(); err != nil {
		log.Printf("[IdentityStage] Embedding backend unavailable, stage disabled: %v", err)
	} else {
		s.available.Store(true)
	}
	return s
}

// Name returns the stage identifier used in feed URLs and cache keys.
func (s *IdentityStage) Name() string { return "identity" }

// Available reports whether the embedding backend is usable.
func (s *IdentityStage) Available() bool { return s.available.Load() }

// MatchThreshold returns the clamped similarity threshold.
func (s *IdentityStage) MatchThreshold() float32 { return s.threshold }

// SetReference stores the face signature of an uploaded image as the new
// reference, replacing any previous one. The largest face in the image is
// used. On any failure the current reference is left untouched.
func (s *IdentityStage) SetReference(imageData []byte, name string) error {
	if !s.available.Load() {
		return detection.ErrUnavailable
	}
	if _, err := overlay.DecodeRGBA(imageData); err != nil {
		return fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	result, err := s.signer.EmbedFaces(imageData)
	if err != nil {
		return fmt.Errorf("failed to embed reference image: %w", err)
	}
	if len(result.Faces) == 0 {
		return ErrNoFace
	}

	target := result.Faces[0]
	targetArea := bboxArea(target.BBox)
	for _, face := range result.Faces[1:] {
		if area := bboxArea(face.BBox); area > targetArea {
			target, targetArea = face, area
		}
	}
	if len(target.Signature) == 0 {
		return errors.New("embedding service returned an empty signature")
	}

	signature := make([]float32, len(target.Signature))
	copy(signature, target.Signature)

	s.mu.Lock()
	s.refSig = signature
	s.refName = name
	s.mu.Unlock()

	log.Printf("[IdentityStage] Stored reference signature for %s", name)
	return nil
}

// ClearReference removes the stored reference signature.
func (s *IdentityStage) ClearReference() {
	s.mu.Lock()
	s.refSig = nil
	s.refName = "Unknown"
	s.mu.Unlock()
	log.Printf("[IdentityStage] Reference face cleared")
}

// HasReference reports whether a reference signature is stored.
func (s *IdentityStage) HasReference() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refSig != nil
}

// ReferenceName returns the label of the stored reference.
func (s *IdentityStage) ReferenceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refName
}

// Process embeds every face in the frame and compares each signature
// against the reference, boxing matches in green and others in red.
func (s *IdentityStage) Process(cameraID int, frame *image.RGBA) (*image.RGBA, Summary, error) {
	sum := Summary{Stage: s.Name()}
	if frame == nil || !s.available.Load() {
		return frame, sum, nil
	}

	s.mu.RLock()
	reference := s.refSig
	name := s.refName
	s.mu.RUnlock()
	if reference == nil {
		return frame, sum, nil
	}

	data, err := overlay.EncodeJPEG(frame)
	if err != nil {
		return frame, sum, err
	}
	result, err := s.signer.EmbedFaces(data)
	if err != nil {
		if errors.Is(err, detection.ErrUnavailable) {
			s.available.Store(false)
			log.Printf("[IdentityStage] Embedding backend went away, stage disabled: %v", err)
			return frame, sum, nil
		}
		return frame, sum, err
	}
	s.processed.Add(1)

	annotated := overlay.Clone(frame)
	matchFound := false
	for _, face := range result.Faces {
		box, ok := boxFromBBox(face.BBox)
		if !ok {
			continue
		}
		similarity := dotProduct(reference, face.Signature)
		if similarity >= s.threshold {
			matchFound = true
			label := fmt.Sprintf("%s (%.1f%%)", name, matchConfidence(similarity, s.threshold))
			overlay.DrawBox(annotated, box.X, box.Y, box.W, box.H, overlay.Green, 3)
			overlay.DrawLabel(annotated, box.X, box.Y-5, label, overlay.Green)
		} else {
			overlay.DrawBox(annotated, box.X, box.Y, box.W, box.H, overlay.Red, 2)
			overlay.DrawLabel(annotated, box.X, box.Y-5, "Unknown", overlay.Red)
		}
	}

	sum.FaceCount = len(result.Faces)
	sum.MatchFound = matchFound
	if matchFound {
		sum.Identity = name
		sum.Alert = true
		sum.Detail = fmt.Sprintf("reference match: %s", name)
	}
	return annotated, sum, nil
}

// Overlay renders the search status banner across the top of the frame.
func (s *IdentityStage) Overlay(frame *image.RGBA, sum Summary) *image.RGBA {
	if frame == nil {
		return nil
	}

	var banner color.RGBA
	var status string
	switch {
	case sum.MatchFound:
		banner = overlay.Green
		status = fmt.Sprintf("MATCH FOUND: %s", sum.Identity)
	case sum.FaceCount > 0:
		banner = overlay.Orange
		status = fmt.Sprintf("Searching... (%d faces detected)", sum.FaceCount)
	case s.HasReference():
		banner = overlay.Sky
		status = fmt.Sprintf("Searching for: %s", s.ReferenceName())
	default:
		banner = overlay.Gray
		status = "No reference face uploaded"
	}

	overlay.FillRect(frame, image.Rect(0, 0, frame.Bounds().Dx(), 50), banner)
	overlay.DrawText(frame, 10, 32, status, overlay.White)
	return frame
}

// Status reports availability and the reference state.
func (s *IdentityStage) Status() map[string]interface{} {
	return map[string]interface{}{
		"available":        s.available.Load(),
		"has_reference":    s.HasReference(),
		"reference_name":   s.ReferenceName(),
		"match_threshold":  s.threshold,
		"frames_processed": s.processed.Load(),
	}
}

// matchConfidence rescales a similarity score into a 0-99.9 percentage
// relative to the match threshold.
func matchConfidence(similarity, threshold float32) float32 {
	confidence := (similarity - threshold) / (1 - threshold + 1e-6) * 100
	return min(max(confidence, 0), 99.9)
}

func dotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func bboxArea(bbox []float32) float32 {
	if len(bbox) != 4 {
		return 0
	}
	return (bbox[2] - bbox[0]) * (bbox[3] - bbox[1])
}
