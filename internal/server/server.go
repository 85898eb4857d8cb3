// Package server mounts the HTTP API: the login endpoint, MJPEG feeds and
// snapshots, status and settings, face reference management, the websocket
// alert socket and the metrics scrape.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/internal/auth"
	"vigil/internal/camera"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/detection"
	"vigil/internal/middleware"
	"vigil/internal/pipeline"
	"vigil/internal/stage"
	"vigil/internal/stream"
)

const maxUploadBytes = 10 << 20

// Options carries the wired subsystems the server exposes. WS and Metrics
// are plain handlers so the server does not depend on their packages.
type Options struct {
	Cameras  *camera.Registry
	Pipeline *pipeline.Orchestrator
	Streamer *stream.Streamer
	Settings *config.Settings
	Density  *stage.DensityStage
	Identity *stage.IdentityStage
	DB       *database.Database
	Auth     *auth.Authenticator
	Limiter  *auth.LoginLimiter
	WS       http.Handler
	Metrics  http.Handler
}

// Server serves the HTTP API.
type Server struct {
	cameras  *camera.Registry
	pipeline *pipeline.Orchestrator
	streamer *stream.Streamer
	settings *config.Settings
	density  *stage.DensityStage
	identity *stage.IdentityStage
	db       *database.Database
	authn    *auth.Authenticator
	limiter  *auth.LoginLimiter
	ws       http.Handler
	metrics  http.Handler
	started  time.Time
}

// New builds a server from wired subsystems.
func New(opts Options) *Server {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = auth.NewLoginLimiter(2*time.Second, 5)
	}

	return &Server{
		cameras:  opts.Cameras,
		pipeline: opts.Pipeline,
		streamer: opts.Streamer,
		settings: opts.Settings,
		density:  opts.Density,
		identity: opts.Identity,
		db:       opts.DB,
		authn:    opts.Auth,
		limiter:  limiter,
		ws:       opts.WS,
		metrics:  opts.Metrics,
		started:  time.Now(),
	}
}

// Handler returns the full route table. Video endpoints stay open so that
// dashboards can embed feeds without token plumbing; the API surface and
// the metrics scrape sit behind the auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/video_feed/", s.handleVideoFeed)
	mux.HandleFunc("/snapshot/", s.handleSnapshot)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}

	protected := middleware.AuthMiddleware(s.authn)
	mux.Handle("/api/status", protected(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/api/settings", protected(http.HandlerFunc(s.handleSettings)))
	mux.Handle("/api/faces/reference", protected(http.HandlerFunc(s.handleFaceReference)))
	if s.metrics != nil {
		mux.Handle("/metrics", protected(s.metrics))
	}

	return mux
}

// MountPoint holds information about one endpoint served by Handler.
type MountPoint struct {
	// Method is the name of the operation served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

// Mounts lists the endpoints Handler serves, in mount order.
func (s *Server) Mounts() []MountPoint {
	mounts := []MountPoint{
		{"login", "POST", "/api/login"},
		{"video_feed", "GET", "/video_feed/{camera}/{stage}"},
		{"snapshot", "GET", "/snapshot/{camera}/{stage}"},
		{"healthz", "GET", "/healthz"},
	}
	if s.ws != nil {
		mounts = append(mounts, MountPoint{"alerts", "GET", "/ws"})
	}
	mounts = append(mounts,
		MountPoint{"status", "GET", "/api/status"},
		MountPoint{"settings", "GET", "/api/settings"},
		MountPoint{"update_settings", "POST", "/api/settings"},
		MountPoint{"set_face_reference", "POST", "/api/faces/reference"},
		MountPoint{"clear_face_reference", "DELETE", "/api/faces/reference"},
	)
	if s.metrics != nil {
		mounts = append(mounts, MountPoint{"metrics", "GET", "/metrics"})
	}
	return mounts
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limiter.Allow(clientIP(r)) {
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "too many login attempts",
		}, http.StatusTooManyRequests)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "invalid request body",
		}, http.StatusBadRequest)
		return
	}

	token, expiresAt, err := s.authn.Authenticate(creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "authentication is disabled",
		}, http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "invalid credentials",
		}, http.StatusUnauthorized)
		return
	case err != nil:
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "login failed",
		}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	cameraID, stageName, ok := pathCameraStage(w, r)
	if !ok {
		return
	}
	s.streamer.ServeFeed(w, r, cameraID, stageName)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cameraID, stageName, ok := pathCameraStage(w, r)
	if !ok {
		return
	}
	s.streamer.ServeSnapshot(w, r, cameraID, stageName)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cameras := map[string]interface{}{}
	for _, cam := range s.cameras.ListCameras() {
		var lastUpdate interface{}
		if t := cam.LastUpdate(); !t.IsZero() {
			lastUpdate = t.UTC().Format(time.RFC3339)
		}
		cameras[strconv.Itoa(cam.ID)] = map[string]interface{}{
			"name":            cam.Name,
			"running":         cam.IsRunning(),
			"last_update":     lastUpdate,
			"frames_captured": cam.FramesCaptured(),
			"reconnects":      cam.Reconnects(),
		}
	}

	payload := map[string]interface{}{
		"cameras":        cameras,
		"stages":         s.pipeline.StageStatus(),
		"pipeline":       s.pipeline.Stats(),
		"settings":       s.settings.Snapshot(),
		"active_streams": s.streamer.ActiveStreams(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if s.db != nil {
		events, err := s.db.ListEvents(-1, nil, 10)
		if err != nil {
			log.Printf("[Server] Failed to load recent events: %v", err)
		} else {
			recent := make([]map[string]interface{}, 0, len(events))
			for _, ev := range events {
				recent = append(recent, map[string]interface{}{
					"id":         ev.ID,
					"camera_id":  ev.CameraID,
					"stage":      ev.Stage,
					"detail":     ev.Detail,
					"summary":    ev.Summary,
					"created_at": ev.CreatedAt.UTC().Format(time.RFC3339),
				})
			}
			payload["recent_events"] = recent
		}
	}

	writeJSON(w, payload)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.settings.Snapshot())

	case http.MethodPost:
		if !s.requireAdmin(w, r) {
			return
		}

		var update config.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeJSONWithStatus(w, map[string]interface{}{
				"error": "invalid request body",
			}, http.StatusBadRequest)
			return
		}

		state := s.settings.Apply(update)
		if s.density != nil {
			s.density.SetAlertThreshold(state.DensityAlertThreshold)
		}
		writeJSON(w, state)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFaceReference(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "identity stage not configured",
		}, http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleFaceUpload(w, r)

	case http.MethodDelete:
		s.identity.ClearReference()
		writeJSON(w, map[string]interface{}{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFaceUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "invalid multipart form",
		}, http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("face_image")
	if err != nil {
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "face_image file is required",
		}, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "could not read upload",
		}, http.StatusBadRequest)
		return
	}

	name := r.FormValue("face_name")
	if name == "" {
		name = "Target Person"
	}

	switch err := s.identity.SetReference(data, name); {
	case errors.Is(err, stage.ErrBadImage):
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "could not decode image",
		}, http.StatusBadRequest)
	case errors.Is(err, stage.ErrNoFace):
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "no face detected in image",
		}, http.StatusUnprocessableEntity)
	case errors.Is(err, detection.ErrUnavailable):
		writeJSONWithStatus(w, map[string]interface{}{
			"error": "face service unavailable",
		}, http.StatusServiceUnavailable)
	case err != nil:
		writeJSONWithStatus(w, map[string]interface{}{
			"error": err.Error(),
		}, http.StatusInternalServerError)
	default:
		writeJSON(w, map[string]interface{}{
			"status":    "ok",
			"reference": name,
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

// requireAdmin enforces the admin role on a single method branch. With auth
// disabled everything is allowed.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !s.authn.IsEnabled() {
		return true
	}

	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, `{"error": "missing authorization"}`, http.StatusUnauthorized)
		return false
	}
	if claims.Role != auth.RoleAdmin {
		http.Error(w, `{"error": "admin role required"}`, http.StatusForbidden)
		return false
	}
	return true
}

// pathCameraStage parses /video_feed/{camera}/{stage} style paths.
func pathCameraStage(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return 0, "", false
	}

	cameraID, err := strconv.Atoi(parts[1])
	if err != nil || cameraID < 0 {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return 0, "", false
	}

	return cameraID, parts[2], true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
