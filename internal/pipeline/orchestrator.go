package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"vigil/internal/events"
	"vigil/internal/overlay"
	"vigil/internal/stage"
)

// Stage names accepted by Render.
const (
	StageRaw      = "raw"
	StageDensity  = "density"
	StageIdentity = "identity"
	StageThreat   = "threat"
	StageAll      = "all"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 480
)

// ErrUnknownStage is returned by Render for stage names nobody registered.
var ErrUnknownStage = errors.New("unknown stage")

// FrameSource supplies the latest captured frame per camera.
type FrameSource interface {
	GetFrame(cameraID int) ([]byte, bool)
}

// Settings exposes the runtime switches the orchestrator honors per render.
type Settings interface {
	DensityEnabled() bool
	IdentityEnabled() bool
	ThreatEnabled() bool
	ShowOverlays() bool
}

// Stats is a snapshot of the orchestrator counters.
type Stats struct {
	CacheEntries int   `json:"cache_entries"`
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	Computations int64 `json:"computations"`
	StageErrors  int64 `json:"stage_errors"`
	AlertsRaised int64 `json:"alerts_raised"`
}

// Orchestrator renders frames on demand. Every viewer of a camera and stage
// within one cache TTL shares a single computation; a disabled stage serves
// the raw capture.
type Orchestrator struct {
	frames   FrameSource
	settings Settings
	bus      *events.Bus
	cache    *FrameCache
	stages   map[string]stage.Stage

	computations atomic.Int64
	stageErrors  atomic.Int64
	alerts       atomic.Int64
}

// NewOrchestrator wires the renderer over a frame source and the given
// stages. A nil bus disables alert publishing.
func NewOrchestrator(frames FrameSource, settings Settings, bus *events.Bus, cacheTTL time.Duration, stages ...stage.Stage) *Orchestrator {
	byName := make(map[string]stage.Stage, len(stages))
	for _, st := range stages {
		byName[st.Name()] = st
	}
	return &Orchestrator{
		frames:   frames,
		settings: settings,
		bus:      bus,
		cache:    NewFrameCache(cacheTTL),
		stages:   byName,
	}
}

// HasStage reports whether a stage name is renderable.
func (o *Orchestrator) HasStage(name string) bool {
	if name == StageRaw {
		return true
	}
	_, ok := o.stages[name]
	return ok
}

// StageNames lists the renderable stage names, raw included, sorted.
func (o *Orchestrator) StageNames() []string {
	names := make([]string, 0, len(o.stages)+1)
	names = append(names, StageRaw)
	for name := range o.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StageStatus collects the Status payload of every registered stage.
func (o *Orchestrator) StageStatus() map[string]interface{} {
	status := make(map[string]interface{}, len(o.stages))
	for name, st := range o.stages {
		status[name] = st.Status()
	}
	return status
}

// Stats returns a snapshot of the render counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		CacheEntries: o.cache.Len(),
		CacheHits:    o.cache.Hits(),
		CacheMisses:  o.cache.Misses(),
		Computations: o.computations.Load(),
		StageErrors:  o.stageErrors.Load(),
		AlertsRaised: o.alerts.Load(),
	}
}

// Render returns the encoded frame for a camera and stage, computing it at
// most once per cache TTL. The returned bytes are shared and must not be
// modified.
func (o *Orchestrator) Render(cameraID int, stageName string) ([]byte, stage.Summary, error) {
	if !o.HasStage(stageName) {
		return nil, stage.Summary{}, fmt.Errorf("%w: %s", ErrUnknownStage, stageName)
	}

	if data, sum, ok := o.cache.Get(cameraID, stageName); ok {
		return data, sum, nil
	}

	lock := o.cache.lockFor(cameraID, stageName)
	lock.Lock()
	defer lock.Unlock()

	if entry, ok := o.cache.peek(cameraID, stageName); ok {
		return entry.data, entry.summary, nil
	}
	return o.compute(cameraID, stageName)
}

func (o *Orchestrator) compute(cameraID int, stageName string) ([]byte, stage.Summary, error) {
	sum := stage.Summary{Stage: stageName}

	raw, ok := o.frames.GetFrame(cameraID)
	if !ok {
		text := fmt.Sprintf("Camera %d not available", cameraID)
		data, err := overlay.EncodeJPEG(overlay.Placeholder(placeholderWidth, placeholderHeight, text))
		if err != nil {
			return nil, sum, err
		}
		o.cache.Put(cameraID, stageName, data, sum)
		return data, sum, nil
	}

	st := o.stages[stageName]
	if st == nil || !o.stageEnabled(stageName) {
		o.cache.Put(cameraID, stageName, raw, sum)
		return raw, sum, nil
	}

	frame, err := overlay.DecodeRGBA(raw)
	if err != nil {
		o.stageErrors.Add(1)
		log.Printf("[Orchestrator] Camera %d frame decode failed: %v", cameraID, err)
		return raw, sum, nil
	}

	annotated, result, err := st.Process(cameraID, frame)
	if err != nil {
		o.stageErrors.Add(1)
		log.Printf("[Orchestrator] Camera %d %s processing failed: %v", cameraID, stageName, err)
		return raw, sum, nil
	}
	sum = result

	if o.settings.ShowOverlays() {
		annotated = st.Overlay(annotated, sum)
	}

	data, err := overlay.EncodeJPEG(annotated)
	if err != nil {
		o.stageErrors.Add(1)
		log.Printf("[Orchestrator] Camera %d %s encode failed: %v", cameraID, stageName, err)
		return raw, sum, nil
	}

	o.computations.Add(1)
	o.cache.Put(cameraID, stageName, data, sum)
	if sum.Alert {
		o.publishAlert(cameraID, stageName, sum, data)
	}
	return data, sum, nil
}

// stageEnabled maps a stage name to its settings switch. Names without a
// switch, the combined view included, always run.
func (o *Orchestrator) stageEnabled(name string) bool {
	switch name {
	case StageDensity:
		return o.settings.DensityEnabled()
	case StageIdentity:
		return o.settings.IdentityEnabled()
	case StageThreat:
		return o.settings.ThreatEnabled()
	default:
		return true
	}
}

func (o *Orchestrator) publishAlert(cameraID int, stageName string, sum stage.Summary, data []byte) {
	o.alerts.Add(1)
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		CameraID:  cameraID,
		Stage:     stageName,
		Summary:   sum,
		Frame:     data,
		Timestamp: time.Now(),
	})
}
