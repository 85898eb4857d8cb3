package camera

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

const (
	// DefaultWidth is the capture width used when a source spec does not
	// carry an explicit resolution.
	DefaultWidth = 640
	// DefaultHeight is the matching default capture height.
	DefaultHeight = 480
)

// Registry owns every active camera stream, keyed by integer id. It is the
// only writer of the key set; streams mutate nothing but their own state.
type Registry struct {
	mu          sync.RWMutex
	cameras     map[int]*Stream
	initialized bool

	// newSource builds the production source for a descriptor; tests
	// substitute their own factory.
	newSource func(descriptor string, width, height int) Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		cameras:   make(map[int]*Stream),
		newSource: NewSource,
	}
}

// Add constructs and starts a camera stream, registering it only when the
// source opens. Adding an id that already exists is a no-op success.
func (r *Registry) Add(id int, name, descriptor string, width, height int) bool {
	r.mu.RLock()
	_, exists := r.cameras[id]
	r.mu.RUnlock()
	if exists {
		log.Printf("[CameraRegistry] Camera %d already exists", id)
		return true
	}

	stream := NewStream(id, name, descriptor, r.newSource(descriptor, width, height), width, height)
	if !stream.Start() {
		return false
	}

	r.mu.Lock()
	if _, exists := r.cameras[id]; exists {
		r.mu.Unlock()
		stream.Stop()
		return true
	}
	r.cameras[id] = stream
	r.mu.Unlock()
	return true
}

// GetFrame returns a copy of the latest frame from a camera, false when the
// camera is unknown or has not produced a frame yet.
func (r *Registry) GetFrame(id int) ([]byte, bool) {
	r.mu.RLock()
	cam := r.cameras[id]
	r.mu.RUnlock()

	if cam == nil {
		return nil, false
	}
	return cam.Read()
}

// GetCamera looks up a stream by id.
func (r *Registry) GetCamera(id int) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cam, ok := r.cameras[id]
	return cam, ok
}

// ListCameras returns the registered streams ordered by id.
func (r *Registry) ListCameras() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cameras := make([]*Stream, 0, len(r.cameras))
	for _, cam := range r.cameras {
		cameras = append(cameras, cam)
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i].ID < cameras[j].ID })
	return cameras
}

// Count returns the number of registered cameras.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cameras)
}

// StopAll stops every camera and clears the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	cameras := r.cameras
	r.cameras = make(map[int]*Stream)
	r.initialized = false
	r.mu.Unlock()

	for _, cam := range cameras {
		cam.Stop()
	}
}

// InitializeFromSources tears down the current registry and rebuilds it from
// a comma separated spec of the form "label=descriptor" (a bare descriptor
// is allowed). Entries get sequential ids starting at zero; numeric
// descriptors address local capture devices, anything else is a stream URI.
// Returns true when at least one camera started.
func (r *Registry) InitializeFromSources(spec string) bool {
	r.StopAll()

	started := 0
	id := 0
	for _, raw := range strings.Split(spec, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		label := ""
		descriptor := entry
		if i := strings.Index(entry, "="); i >= 0 {
			label = strings.TrimSpace(entry[:i])
			descriptor = strings.TrimSpace(entry[i+1:])
		}
		if descriptor == "" {
			log.Printf("[CameraRegistry] Skipping source entry %q: empty descriptor", raw)
			continue
		}
		if label == "" {
			label = fmt.Sprintf("Camera %d", id+1)
		}

		if r.Add(id, label, descriptor, DefaultWidth, DefaultHeight) {
			started++
		} else {
			log.Printf("[CameraRegistry] Warning: source %q (camera %d) not available", descriptor, id)
		}
		id++
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	return started > 0
}

// InitializeDefaults brings up the built-in camera layout: local device 0 as
// the main camera and device 1 as an optional external camera. Returns true
// when the main camera started; the external one is best effort.
func (r *Registry) InitializeDefaults() bool {
	r.mu.RLock()
	initialized := r.initialized
	r.mu.RUnlock()
	if initialized {
		return true
	}

	success := true
	if !r.Add(0, "Main Camera", "0", DefaultWidth, DefaultHeight) {
		log.Printf("[CameraRegistry] Warning: Main camera (0) not available")
		success = false
	}
	if !r.Add(1, "External Camera", "1", DefaultWidth, DefaultHeight) {
		log.Printf("[CameraRegistry] Warning: External camera (1) not available")
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	return success
}
