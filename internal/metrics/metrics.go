// Package metrics exposes pipeline, camera and client counters on a
// private Prometheus registry. Collectors read the live sources at scrape
// time, so the rest of the application never pushes anything here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/camera"
	"vigil/internal/pipeline"
)

// StatsSource reports pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// ClientCounter reports connected websocket alert clients.
type ClientCounter interface {
	ClientCount() int
}

// Metrics holds the registry all collectors are registered on.
type Metrics struct {
	registry *prometheus.Registry
}

// New builds a registry wired to the given sources. A nil source skips its
// metric group, so partial wiring in tests stays cheap.
func New(pipe StatsSource, cameras *camera.Registry, clients ClientCounter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	if pipe != nil {
		m.registerPipeline(pipe)
	}
	if cameras != nil {
		m.registerCameras(cameras)
	}
	if clients != nil {
		m.registerClients(clients)
	}

	return m
}

func (m *Metrics) registerPipeline(pipe StatsSource) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_cache_entries",
			Help: "Processed frames currently cached",
		},
		func() float64 { return float64(pipe.Stats().CacheEntries) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_cache_hits_total",
			Help: "Total render requests served from cache",
		},
		func() float64 { return float64(pipe.Stats().CacheHits) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_cache_misses_total",
			Help: "Total render requests that missed the cache",
		},
		func() float64 { return float64(pipe.Stats().CacheMisses) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_computations_total",
			Help: "Total fresh stage computations",
		},
		func() float64 { return float64(pipe.Stats().Computations) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_stage_errors_total",
			Help: "Total stage failures served as raw frames",
		},
		func() float64 { return float64(pipe.Stats().StageErrors) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_alerts_total",
			Help: "Total alert events published",
		},
		func() float64 { return float64(pipe.Stats().AlertsRaised) },
	))
}

func (m *Metrics) registerCameras(cameras *camera.Registry) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_cameras_configured",
			Help: "Cameras registered at startup",
		},
		func() float64 { return float64(cameras.Count()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_cameras_running",
			Help: "Cameras with a live capture loop",
		},
		func() float64 {
			running := 0
			for _, cam := range cameras.ListCameras() {
				if cam.IsRunning() {
					running++
				}
			}
			return float64(running)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_camera_frames_captured_total",
			Help: "Frames captured across all cameras",
		},
		func() float64 {
			var total uint64
			for _, cam := range cameras.ListCameras() {
				total += cam.FramesCaptured()
			}
			return float64(total)
		},
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_camera_reconnects_total",
			Help: "Source reopen attempts across all cameras",
		},
		func() float64 {
			var total uint64
			for _, cam := range cameras.ListCameras() {
				total += cam.Reconnects()
			}
			return float64(total)
		},
	))
}

func (m *Metrics) registerClients(clients ClientCounter) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vigil_ws_clients",
			Help: "Connected websocket alert clients",
		},
		func() float64 { return float64(clients.ClientCount()) },
	))
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
