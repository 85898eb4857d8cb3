package stage

import "image"

// Gates reports which analysis stages are currently enabled.
type Gates interface {
	DensityEnabled() bool
	IdentityEnabled() bool
	ThreatEnabled() bool
}

// CompositeStage chains density, identity and threat analysis over a single
// frame for the combined dashboard view. Only the weapon alert banner is
// rendered in this mode.
type CompositeStage struct {
	density  *DensityStage
	identity *IdentityStage
	threat   *ThreatStage
	gates    Gates
}

var _ Stage = (*CompositeStage)(nil)

// NewCompositeStage creates the combined stage over the three analyzers.
func NewCompositeStage(density *DensityStage, identity *IdentityStage, threat *ThreatStage, gates Gates) *CompositeStage {
	return &CompositeStage{
		density:  density,
		identity: identity,
		threat:   threat,
		gates:    gates,
	}
}

// Name returns the stage identifier used in feed URLs and cache keys.
func (s *CompositeStage) Name() string { return "all" }

// Process runs every enabled analyzer in sequence over the frame. A
// transient failure in any analyzer fails the whole cycle with the input
// frame unchanged.
func (s *CompositeStage) Process(cameraID int, frame *image.RGBA) (*image.RGBA, Summary, error) {
	merged := Summary{Stage: s.Name()}
	if frame == nil {
		return frame, merged, nil
	}

	out := frame
	if s.gates.DensityEnabled() {
		processed, sum, err := s.density.Process(cameraID, out)
		if err != nil {
			return frame, Summary{Stage: s.Name()}, err
		}
		out = processed
		merged.PeopleCount = sum.PeopleCount
		merged.HighDensity = sum.HighDensity
		mergeAlert(&merged, sum)
	}
	if s.gates.IdentityEnabled() {
		processed, sum, err := s.identity.Process(cameraID, out)
		if err != nil {
			return frame, Summary{Stage: s.Name()}, err
		}
		out = processed
		merged.FaceCount = sum.FaceCount
		merged.MatchFound = sum.MatchFound
		merged.Identity = sum.Identity
		mergeAlert(&merged, sum)
	}
	if s.gates.ThreatEnabled() {
		processed, sum, err := s.threat.Process(cameraID, out)
		if err != nil {
			return frame, Summary{Stage: s.Name()}, err
		}
		out = processed
		merged.WeaponFound = sum.WeaponFound
		merged.Weapons = sum.Weapons
		mergeAlert(&merged, sum)
	}
	return out, merged, nil
}

func mergeAlert(into *Summary, from Summary) {
	if !from.Alert {
		return
	}
	into.Alert = true
	if into.Detail == "" {
		into.Detail = from.Detail
	} else if from.Detail != "" {
		into.Detail += "; " + from.Detail
	}
}

// Overlay renders only the weapon alert banner in combined mode.
func (s *CompositeStage) Overlay(frame *image.RGBA, sum Summary) *image.RGBA {
	if sum.WeaponFound {
		return s.threat.Overlay(frame, sum)
	}
	return frame
}

// Status lists the chained stage names.
func (s *CompositeStage) Status() map[string]interface{} {
	return map[string]interface{}{
		"stages": []string{s.density.Name(), s.identity.Name(), s.threat.Name()},
	}
}
