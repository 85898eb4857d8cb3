package detection

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func healthyHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(ServiceHealth{Status: "healthy", Device: "cpu", ModelLoaded: true})
}

func TestClassifierClassifySendsProfilesAndFile(t *testing.T) {
	var gotProfiles, gotFilename string

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthyHandler)
	mux.HandleFunc("/classify", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
		}
		gotProfiles = r.FormValue("profiles")
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			gotFilename = header.Filename
			f.Close()
		}
		json.NewEncoder(w).Encode(ClassifierResult{
			Detections: []ClassifierDetection{
				{Profile: "frontalface_alt", BBox: []float32{10, 20, 30, 40}, Confidence: 0.9},
			},
			Count: 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{Enabled: true, ServiceEndpoint: srv.URL})
	result, err := c.Classify([]byte("jpegdata"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Count != 1 || len(result.Detections) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Detections[0].Profile != "frontalface_alt" {
		t.Errorf("profile = %q", result.Detections[0].Profile)
	}
	if gotProfiles != "frontalface_default,frontalface_alt,frontalface_alt2" {
		t.Errorf("profiles field = %q", gotProfiles)
	}
	if gotFilename != "frame.jpg" {
		t.Errorf("filename = %q, want frame.jpg", gotFilename)
	}
	if !c.IsHealthy() {
		t.Error("classifier should be healthy after a successful request")
	}
}

func TestClassifierDisabledReportsUnavailable(t *testing.T) {
	c := NewClassifier(ClassifierConfig{Enabled: false, ServiceEndpoint: "http://127.0.0.1:1"})
	if _, err := c.Classify([]byte("jpegdata")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestClassifierUnreachableServiceReportsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClassifier(ClassifierConfig{Enabled: true, ServiceEndpoint: srv.URL})
	if _, err := c.Classify([]byte("jpegdata")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if c.IsHealthy() {
		t.Error("classifier should be unhealthy after a failed probe")
	}
}

func TestClassifierUnloadedModelReportsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ServiceHealth{Status: "healthy", ModelLoaded: false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{Enabled: true, ServiceEndpoint: srv.URL})
	if _, err := c.Classify([]byte("jpegdata")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestClassifierServerErrorIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthyHandler)
	mux.HandleFunc("/classify", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad frame", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{Enabled: true, ServiceEndpoint: srv.URL})
	_, err := c.Classify([]byte("jpegdata"))
	if err == nil {
		t.Fatal("want error from HTTP 500")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("HTTP 500 should not mark the service unavailable: %v", err)
	}
	if !c.IsHealthy() {
		t.Error("a failed request should not clear a passing health probe")
	}
}

func TestClassifierHealthProbeCached(t *testing.T) {
	var healthHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthHits.Add(1)
		healthyHandler(w, r)
	})
	mux.HandleFunc("/classify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ClassifierResult{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClassifier(ClassifierConfig{Enabled: true, ServiceEndpoint: srv.URL})
	for i := 0; i < 3; i++ {
		if _, err := c.Classify([]byte("jpegdata")); err != nil {
			t.Fatalf("Classify %d: %v", i, err)
		}
	}
	if n := healthHits.Load(); n != 1 {
		t.Errorf("health probed %d times, want 1", n)
	}
}

func TestClassifierDefaultProfiles(t *testing.T) {
	c := NewClassifier(ClassifierConfig{Enabled: true})
	got := c.Profiles()
	if len(got) != len(DefaultProfiles) {
		t.Fatalf("profiles = %v", got)
	}
	for i, p := range DefaultProfiles {
		if got[i] != p {
			t.Errorf("profile[%d] = %q, want %q", i, got[i], p)
		}
	}
}
