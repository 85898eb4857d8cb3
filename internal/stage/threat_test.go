package stage

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vigil/internal/detection"
)

func objectResult(class string, conf float32) (*detection.ObjectResult, error) {
	return &detection.ObjectResult{
		Detections: []detection.ObjectDetection{{
			Class:      class,
			ClassID:    1,
			Confidence: conf,
			BBox:       []float32{10, 10, 40, 40},
		}},
		Count: 1,
	}, nil
}

func TestThreatStageFlagsWeaponClasses(t *testing.T) {
	cases := []struct {
		label string
		want  bool
	}{
		{"gun", true},
		{"PISTOL", true},
		{"Handgun", true},
		{"combat knife", true},
		{"sword", true},
		{"laptop", false},
		{"person", false},
	}
	for _, tc := range cases {
		finder := &fakeObjectFinder{
			fn: func(call int) (*detection.ObjectResult, error) {
				return objectResult(tc.label, 0.9)
			},
		}
		s := NewThreatStage(finder, ThreatConfig{})

		annotated, sum, err := s.Process(1, testFrame(320, 240))
		if err != nil {
			t.Fatalf("%s: Process: %v", tc.label, err)
		}
		if sum.WeaponFound != tc.want {
			t.Errorf("%s: WeaponFound = %v, want %v", tc.label, sum.WeaponFound, tc.want)
			continue
		}
		if !tc.want {
			continue
		}
		if len(sum.Weapons) != 1 || sum.Weapons[0].Class != tc.label {
			t.Errorf("%s: Weapons = %+v", tc.label, sum.Weapons)
		}
		if !sum.Alert || !strings.Contains(sum.Detail, "weapon detected") {
			t.Errorf("%s: summary = %+v, want an alert", tc.label, sum)
		}
		if px := annotated.RGBAAt(10, 10); px.R != 255 || px.G != 0 {
			t.Errorf("%s: box pixel = %+v, want red", tc.label, px)
		}
	}
}

func TestThreatStageConfidenceFloor(t *testing.T) {
	finder := &fakeObjectFinder{
		fn: func(call int) (*detection.ObjectResult, error) {
			return objectResult("gun", 0.2)
		},
	}
	s := NewThreatStage(finder, ThreatConfig{})

	_, sum, err := s.Process(1, testFrame(320, 240))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sum.WeaponFound || len(sum.Weapons) != 0 {
		t.Errorf("summary = %+v, want low-confidence hit dropped", sum)
	}
}

func TestThreatStageCustomTargetClasses(t *testing.T) {
	newStage := func(label string) (*fakeObjectFinder, *ThreatStage) {
		finder := &fakeObjectFinder{
			fn: func(call int) (*detection.ObjectResult, error) {
				return objectResult(label, 0.9)
			},
		}
		return finder, NewThreatStage(finder, ThreatConfig{TargetClasses: []string{"scissors"}})
	}

	_, s := newStage("scissors")
	if _, sum, _ := s.Process(1, testFrame(320, 240)); !sum.WeaponFound {
		t.Error("configured class should be flagged")
	}

	_, s = newStage("gun")
	if _, sum, _ := s.Process(1, testFrame(320, 240)); sum.WeaponFound {
		t.Error("classes outside the configured list should be ignored")
	}
}

func TestThreatStageCachesPerCamera(t *testing.T) {
	finder := &fakeObjectFinder{
		fn: func(call int) (*detection.ObjectResult, error) {
			return objectResult("gun", 0.9)
		},
	}
	s := NewThreatStage(finder, ThreatConfig{})

	frame := testFrame(320, 240)
	first, sum, err := s.Process(1, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !sum.WeaponFound {
		t.Fatal("weapon should be flagged")
	}
	if finder.callCount() != 1 {
		t.Fatalf("detect calls = %d, want 1", finder.callCount())
	}

	second, sum, err := s.Process(1, frame)
	if err != nil {
		t.Fatalf("cached Process: %v", err)
	}
	if finder.callCount() != 1 {
		t.Errorf("detect calls after cache hit = %d, want 1", finder.callCount())
	}
	if !sum.WeaponFound || len(sum.Weapons) != 1 {
		t.Errorf("cached summary = %+v", sum)
	}
	if second == first {
		t.Error("cache hits should return independent copies")
	}

	// Defacing one served copy must not leak into later hits.
	second.SetRGBA(5, 5, color.RGBA{0, 0, 0, 255})
	third, _, err := s.Process(1, frame)
	if err != nil {
		t.Fatalf("third Process: %v", err)
	}
	if px := third.RGBAAt(5, 5); px.R != 128 {
		t.Errorf("cached frame pixel = %+v, want untouched gray", px)
	}

	if _, _, err := s.Process(2, frame); err != nil {
		t.Fatalf("Process camera 2: %v", err)
	}
	if finder.callCount() != 2 {
		t.Errorf("detect calls = %d, want a fresh run for camera 2", finder.callCount())
	}
}

func TestThreatStageCacheExpires(t *testing.T) {
	finder := &fakeObjectFinder{
		fn: func(call int) (*detection.ObjectResult, error) {
			return objectResult("gun", 0.9)
		},
	}
	s := NewThreatStage(finder, ThreatConfig{CacheTTL: 10 * time.Millisecond})

	frame := testFrame(320, 240)
	if _, _, err := s.Process(1, frame); err != nil {
		t.Fatalf("Process: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, _, err := s.Process(1, frame); err != nil {
		t.Fatalf("Process after expiry: %v", err)
	}
	if finder.callCount() != 2 {
		t.Errorf("detect calls = %d, want 2", finder.callCount())
	}
}

func TestThreatStageSerializesInference(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	finder := &fakeObjectFinder{
		fn: func(call int) (*detection.ObjectResult, error) {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return &detection.ObjectResult{}, nil
		},
	}
	s := NewThreatStage(finder, ThreatConfig{})

	frame := testFrame(320, 240)
	var wg sync.WaitGroup
	for cam := 1; cam <= 4; cam++ {
		wg.Add(1)
		go func(cam int) {
			defer wg.Done()
			if _, _, err := s.Process(cam, frame); err != nil {
				t.Errorf("Process camera %d: %v", cam, err)
			}
		}(cam)
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent inferences = %d, want 1", got)
	}
	if finder.callCount() != 4 {
		t.Errorf("detect calls = %d, want 4", finder.callCount())
	}
}

func TestThreatStageUnavailableBackendIsNoOp(t *testing.T) {
	finder := &fakeObjectFinder{healthErr: errors.New("connection refused")}
	s := NewThreatStage(finder, ThreatConfig{})

	if s.Available() {
		t.Fatal("stage should be disabled after a failed probe")
	}

	frame := testFrame(320, 240)
	annotated, sum, err := s.Process(1, frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if annotated != frame || sum.WeaponFound {
		t.Error("disabled stage should pass the frame through")
	}
	if finder.callCount() != 0 {
		t.Errorf("detect calls = %d, want 0", finder.callCount())
	}
}

func TestThreatStageTransientErrorNotCached(t *testing.T) {
	finder := &fakeObjectFinder{
		fn: func(call int) (*detection.ObjectResult, error) {
			return nil, errors.New("decode payload")
		},
	}
	s := NewThreatStage(finder, ThreatConfig{})

	frame := testFrame(320, 240)
	annotated, _, err := s.Process(1, frame)
	if err == nil {
		t.Fatal("transient failure should surface an error")
	}
	if annotated != frame {
		t.Error("failed Process should return the input frame")
	}
	if !s.Available() {
		t.Error("transient failure must not disable the stage")
	}

	if _, _, err := s.Process(1, frame); err == nil {
		t.Fatal("second Process should hit the backend again, not a cache")
	}
	if finder.callCount() != 2 {
		t.Errorf("detect calls = %d, want 2", finder.callCount())
	}
}

func TestThreatStageDisablesWhenBackendGoesAway(t *testing.T) {
	finder := &fakeObjectFinder{
		fn: func(call int) (*detection.ObjectResult, error) {
			return nil, fmt.Errorf("detect: %w", detection.ErrUnavailable)
		},
	}
	s := NewThreatStage(finder, ThreatConfig{})

	frame := testFrame(320, 240)
	annotated, _, err := s.Process(1, frame)
	if err != nil {
		t.Fatalf("Process should degrade, got %v", err)
	}
	if annotated != frame {
		t.Error("degraded stage should pass the frame through")
	}
	if s.Available() {
		t.Error("stage should be disabled after the backend went away")
	}

	if _, _, err := s.Process(1, frame); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if finder.callCount() != 1 {
		t.Errorf("detect calls = %d, want 1", finder.callCount())
	}
}

func TestThreatStageOverlayAlert(t *testing.T) {
	s := NewThreatStage(&fakeObjectFinder{}, ThreatConfig{})

	alert := s.Overlay(testFrame(320, 240), Summary{
		WeaponFound: true,
		Weapons:     []Weapon{{Class: "gun", Confidence: 0.91}},
	})
	if px := alert.RGBAAt(0, 0); px.R != 255 || px.G != 0 {
		t.Errorf("alert border pixel = %+v, want red", px)
	}

	clear := s.Overlay(testFrame(320, 240), Summary{})
	if px := clear.RGBAAt(0, 0); px.R != 128 {
		t.Errorf("clear corner pixel = %+v, want untouched gray", px)
	}
	if px := clear.RGBAAt(15, 15); px.R >= 128 {
		t.Errorf("status box pixel R = %d, want darkened", px.R)
	}
}
