package stage

import (
	"errors"
	"strings"
	"testing"

	"vigil/internal/detection"
)

type compositeFixture struct {
	detector *fakeBoxDetector
	signer   *fakeFaceSigner
	finder   *fakeObjectFinder
	density  *DensityStage
	identity *IdentityStage
	threat   *ThreatStage
}

func newCompositeFixture(t *testing.T) *compositeFixture {
	t.Helper()
	f := &compositeFixture{
		detector: &fakeBoxDetector{
			fn: func(call int) (*detection.ClassifierResult, error) {
				return classifierBoxes(2), nil
			},
		},
		signer: &fakeFaceSigner{
			fn: func(call int) (*detection.EmbedResult, error) {
				return singleFace([]float32{1, 0}, []float32{60, 60, 110, 110})
			},
		},
		finder: &fakeObjectFinder{
			fn: func(call int) (*detection.ObjectResult, error) {
				return objectResult("gun", 0.9)
			},
		},
	}
	f.density = NewDensityStage(f.detector, DensityConfig{})
	f.identity = NewIdentityStage(f.signer, IdentityConfig{})
	f.threat = NewThreatStage(f.finder, ThreatConfig{})
	if err := f.identity.SetReference(encodedFrame(t), "Alice"); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	return f
}

func TestCompositeStageMergesSummaries(t *testing.T) {
	f := newCompositeFixture(t)
	s := NewCompositeStage(f.density, f.identity, f.threat, fakeGates{density: true, identity: true, threat: true})

	frame := testFrame(320, 240)
	out, sum, err := s.Process(1, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out == frame {
		t.Error("combined frame should be a copy")
	}
	if sum.Stage != "all" {
		t.Errorf("Stage = %q, want all", sum.Stage)
	}
	if sum.PeopleCount != 2 || sum.HighDensity {
		t.Errorf("density fields = %d/%v", sum.PeopleCount, sum.HighDensity)
	}
	if sum.FaceCount != 1 || !sum.MatchFound || sum.Identity != "Alice" {
		t.Errorf("identity fields = %+v", sum)
	}
	if !sum.WeaponFound || len(sum.Weapons) != 1 {
		t.Errorf("threat fields = %+v", sum)
	}
	if !sum.Alert {
		t.Error("merged summary should carry the alert")
	}
	if !strings.Contains(sum.Detail, "reference match: Alice") ||
		!strings.Contains(sum.Detail, "weapon detected") ||
		!strings.Contains(sum.Detail, "; ") {
		t.Errorf("Detail = %q, want both alerts joined", sum.Detail)
	}
}

func TestCompositeStageSkipsDisabledStages(t *testing.T) {
	f := newCompositeFixture(t)
	s := NewCompositeStage(f.density, f.identity, f.threat, fakeGates{identity: true, threat: true})

	_, sum, err := s.Process(1, testFrame(320, 240))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.detector.callCount() != 0 {
		t.Errorf("classifier calls = %d, want density skipped", f.detector.callCount())
	}
	if sum.PeopleCount != 0 {
		t.Errorf("PeopleCount = %d, want 0", sum.PeopleCount)
	}
	if !sum.MatchFound || !sum.WeaponFound {
		t.Errorf("summary = %+v, want identity and threat results", sum)
	}
}

func TestCompositeStageTransientErrorAborts(t *testing.T) {
	f := newCompositeFixture(t)
	f.finder.fn = func(call int) (*detection.ObjectResult, error) {
		return nil, errors.New("decode payload")
	}
	s := NewCompositeStage(f.density, f.identity, f.threat, fakeGates{density: true, identity: true, threat: true})

	frame := testFrame(320, 240)
	out, sum, err := s.Process(1, frame)
	if err == nil {
		t.Fatal("failing analyzer should fail the cycle")
	}
	if out != frame {
		t.Error("failed cycle should return the input frame")
	}
	if sum.PeopleCount != 0 || sum.MatchFound || sum.Alert {
		t.Errorf("summary = %+v, want zero on failure", sum)
	}
}

func TestCompositeStageOverlayOnlyOnWeapon(t *testing.T) {
	f := newCompositeFixture(t)
	s := NewCompositeStage(f.density, f.identity, f.threat, fakeGates{density: true, identity: true, threat: true})

	quiet := s.Overlay(testFrame(320, 240), Summary{HighDensity: true, MatchFound: true})
	if px := quiet.RGBAAt(0, 0); px.R != 128 {
		t.Errorf("quiet overlay pixel = %+v, want untouched gray", px)
	}

	alert := s.Overlay(testFrame(320, 240), Summary{
		WeaponFound: true,
		Weapons:     []Weapon{{Class: "gun", Confidence: 0.91}},
	})
	if px := alert.RGBAAt(0, 0); px.R != 255 || px.G != 0 {
		t.Errorf("alert overlay pixel = %+v, want red border", px)
	}
}

func TestCompositeStageStatus(t *testing.T) {
	f := newCompositeFixture(t)
	s := NewCompositeStage(f.density, f.identity, f.threat, fakeGates{})

	status := s.Status()
	stages, ok := status["stages"].([]string)
	if !ok || len(stages) != 3 {
		t.Fatalf("stages = %#v", status["stages"])
	}
	if stages[0] != "density" || stages[1] != "identity" || stages[2] != "threat" {
		t.Errorf("stages = %v", stages)
	}
}
