// Package stage implements the frame analysis capabilities: crowd density,
// identity matching and weapon screening. Each stage annotates the frames it
// processes and reports a Summary the pipeline uses for caching, alert
// fan-out and status reporting.
package stage

import (
	"errors"
	"image"

	"vigil/internal/detection"
	"vigil/internal/geometry"
)

// Errors reported by reference uploads.
var (
	ErrBadImage = errors.New("could not decode image")
	ErrNoFace   = errors.New("no face detected in image")
)

// Stage analyzes one frame for a camera and annotates it. A non-nil error
// from Process means the cycle failed transiently and its result must not
// be cached; the returned frame is then the unmodified input. Overlay
// renders the status banner for a Summary, mutating the frame in place.
// Implementations are safe for concurrent use.
type Stage interface {
	Name() string
	Process(cameraID int, frame *image.RGBA) (*image.RGBA, Summary, error)
	Overlay(frame *image.RGBA, sum Summary) *image.RGBA
	Status() map[string]interface{}
}

// BoxDetector produces candidate boxes for a frame.
type BoxDetector interface {
	Classify(imageData []byte) (*detection.ClassifierResult, error)
	CheckHealth() error
}

// FaceSigner detects faces in a frame and returns their signature vectors.
type FaceSigner interface {
	EmbedFaces(imageData []byte) (*detection.EmbedResult, error)
	CheckHealth() error
}

// ObjectFinder detects objects for weapon screening.
type ObjectFinder interface {
	DetectObjects(imageData []byte) (*detection.ObjectResult, error)
	CheckHealth() error
}

// Weapon is one flagged object detection.
type Weapon struct {
	Class      string       `json:"class"`
	Confidence float32      `json:"confidence"`
	Box        geometry.Box `json:"box"`
}

// Summary is the analysis outcome for one processed frame.
type Summary struct {
	Stage       string   `json:"stage"`
	PeopleCount int      `json:"people_count"`
	HighDensity bool     `json:"high_density"`
	FaceCount   int      `json:"face_count"`
	MatchFound  bool     `json:"match_found"`
	Identity    string   `json:"identity,omitempty"`
	WeaponFound bool     `json:"weapon_found"`
	Weapons     []Weapon `json:"weapons,omitempty"`
	Alert       bool     `json:"alert"`
	Detail      string   `json:"detail,omitempty"`
}

// boxFromBBox converts a service [x1, y1, x2, y2] box into x/y/w/h form.
func boxFromBBox(bbox []float32) (geometry.Box, bool) {
	if len(bbox) != 4 {
		return geometry.Box{}, false
	}
	return geometry.Box{
		X: int(bbox[0]),
		Y: int(bbox[1]),
		W: int(bbox[2] - bbox[0]),
		H: int(bbox[3] - bbox[1]),
	}, true
}
