package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"vigil/internal/auth"
	"vigil/internal/camera"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/detection"
	"vigil/internal/events"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/server"
	"vigil/internal/stage"
	"vigil/internal/stream"
	"vigil/internal/telegram"
	"vigil/internal/ws"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		hostF     = flag.String("host", "0.0.0.0", "Server host")
		httpPortF = flag.String("http-port", "8080", "HTTP port")
	)
	flag.Parse()

	// Load .env overrides before anything reads the environment. A missing
	// file is not an error.
	_ = godotenv.Load()

	// Setup logger. LOG_FILE switches on rotating file output next to stderr;
	// package level logs from the subsystems follow the same writer.
	var (
		logger *log.Logger
	)
	{
		var dst io.Writer = os.Stderr
		if logFile := os.Getenv("LOG_FILE"); logFile != "" {
			dst = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    100,
				MaxAge:     7,
				MaxBackups: 3,
				Compress:   true,
			})
		}
		logger = log.New(dst, "[vigil] ", log.Ltime)
		log.SetOutput(dst)
	}

	// Open storage and run migrations before anything consumes it.
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "vigil.db"
	}
	db, err := database.New(dbPath)
	if err != nil {
		logger.Fatalf("failed to open database at %q: %v", dbPath, err)
	}
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	// Runtime settings: env seeds the defaults, stored values win.
	settings := config.NewSettings(db)

	// Detection backends. Every stage keeps serving as a pass-through when
	// its backend is disabled or unreachable.
	classifierEndpoint := os.Getenv("CLASSIFIER_ENDPOINT")
	if classifierEndpoint == "" {
		classifierEndpoint = "http://classifier-service:8000"
	}
	classifier := detection.NewClassifier(detection.ClassifierConfig{
		Enabled:         os.Getenv("CLASSIFIER_ENABLED") != "false",
		ServiceEndpoint: classifierEndpoint,
	})

	embedderEndpoint := os.Getenv("EMBEDDER_ENDPOINT")
	if embedderEndpoint == "" {
		embedderEndpoint = "http://embedder-service:8001"
	}
	embedder := detection.NewFaceEmbedder(detection.FaceEmbedderConfig{
		Enabled:         os.Getenv("EMBEDDER_ENABLED") != "false",
		ServiceEndpoint: embedderEndpoint,
	})

	threatConfidence := envFloat("THREAT_CONFIDENCE_THRESHOLD")
	objectsEndpoint := os.Getenv("OBJECTS_ENDPOINT")
	if objectsEndpoint == "" {
		objectsEndpoint = "http://objects-service:8002"
	}
	objects := detection.NewObjectDetector(detection.ObjectDetectorConfig{
		Enabled:             os.Getenv("OBJECTS_ENABLED") != "false",
		ServiceEndpoint:     objectsEndpoint,
		ConfidenceThreshold: threatConfidence,
	})

	// Initialize the pipeline stages.
	var (
		density  *stage.DensityStage
		identity *stage.IdentityStage
		threat   *stage.ThreatStage
		combined *stage.CompositeStage
	)
	{
		density = stage.NewDensityStage(classifier, stage.DensityConfig{
			AlertThreshold:  settings.DensityAlertThreshold(),
			EnableRotations: os.Getenv("DENSITY_ROTATIONS") == "true",
		})
		identity = stage.NewIdentityStage(embedder, stage.IdentityConfig{
			MatchThreshold: envFloat("FACE_MATCH_THRESHOLD"),
		})
		threat = stage.NewThreatStage(objects, stage.ThreatConfig{
			ConfidenceThreshold: threatConfidence,
		})
		combined = stage.NewCompositeStage(density, identity, threat, settings)
	}

	// Bring up the camera streams.
	cameras := camera.NewRegistry()
	if sources := os.Getenv("CAMERA_SOURCES"); sources != "" {
		if !cameras.InitializeFromSources(sources) {
			logger.Printf("no cameras started from CAMERA_SOURCES")
		}
	} else if !cameras.InitializeDefaults() {
		logger.Printf("no default cameras available")
	}

	// Alert plumbing: the bus feeds the event store, the websocket hub and
	// the Telegram notifier.
	bus := events.NewBus()
	recorder := events.StartRecorder(bus, db)

	hub := ws.NewAlertHub()
	stopBridge := ws.StartBridge(bus, hub)

	stopNotifier := func() {}
	if notifier := telegram.NewFromEnv(); notifier != nil {
		stopNotifier = telegram.StartNotifier(bus, notifier, func(id int) string {
			if cam, ok := cameras.GetCamera(id); ok {
				return cam.Name
			}
			return fmt.Sprintf("Camera %d", id)
		})
		logger.Printf("telegram alerts enabled")
	}

	orchestrator := pipeline.NewOrchestrator(cameras, settings, bus, pipeline.DefaultCacheTTL, density, identity, threat, combined)
	streamer := stream.NewStreamer(orchestrator, envInt("STREAM_FPS"))

	srv := server.New(server.Options{
		Cameras:  cameras,
		Pipeline: orchestrator,
		Streamer: streamer,
		Settings: settings,
		Density:  density,
		Identity: identity,
		DB:       db,
		Auth:     auth.NewAuthenticator(),
		WS:       ws.NewHandler(hub),
		Metrics:  metrics.New(orchestrator, cameras, hub).Handler(),
	})

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	// Start the HTTP server and send errors (if any) to the error channel.
	handleHTTPServer(ctx, net.JoinHostPort(*hostF, *httpPortF), srv, &wg, errc, logger)

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()

	// Tear down the pipeline behind the drained HTTP server.
	stopBridge()
	stopNotifier()
	recorder.Stop()
	cameras.StopAll()
	if err := db.Close(); err != nil {
		logger.Printf("failed to close database: %v", err)
	}

	logger.Println("exited")
}

// envFloat parses the named variable as a float32. Unset or malformed values
// come back as 0 so the consumer's default applies.
func envFloat(key string) float32 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0
	}
	return float32(parsed)
}

// envInt parses the named variable as an int. Unset or malformed values come
// back as 0 so the consumer's default applies.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return parsed
}
