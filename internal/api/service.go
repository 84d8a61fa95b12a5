package api

import (
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/collector"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/database"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/motion"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/sysinfo"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

// Controller is the detection loop as seen by the API.
type Controller interface {
	StartCapture(ctx context.Context) (motion.Snapshot, error)
	StopCapture(ctx context.Context) (motion.Snapshot, error)
	Snapshot() motion.Snapshot
	ManualCapture(ctx context.Context) (collector.ManualResult, error)
	TakePhoto(ctx context.Context) ([]byte, error)
	CameraCheck(ctx context.Context) (image.Rectangle, error)
}

type EventStore interface {
	RecentEvents(ctx context.Context, limit int) ([]database.StoredEvent, error)
}

type HostInfo interface {
	Health(ctx context.Context) (sysinfo.Health, error)
	Network(ctx context.Context) (sysinfo.Network, error)
}

type Handlers struct {
	ctrl    Controller
	events  EventStore
	host    HostInfo
	clock   timeutil.Clock
	metrics http.Handler
	log     *slog.Logger
}

// NewHandlers wires the control surface. events and metrics may be nil.
func NewHandlers(ctrl Controller, events EventStore, host HostInfo, clock timeutil.Clock, metrics http.Handler, log *slog.Logger) *Handlers {
	return &Handlers{
		ctrl:    ctrl,
		events:  events,
		host:    host,
		clock:   clock,
		metrics: metrics,
		log:     log,
	}
}

// Router returns the routes wrapped in panic recovery and access logging.
func (h *Handlers) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/start_capture", h.StartCaptureHandler).Methods("POST")
	r.HandleFunc("/api/stop_capture", h.StopCaptureHandler).Methods("POST")
	r.HandleFunc("/api/manual_capture", h.ManualCaptureHandler).Methods("GET")
	r.HandleFunc("/api/take_photo", h.TakePhotoHandler).Methods("GET")
	r.HandleFunc("/api/detector", h.DetectorStatusHandler).Methods("GET")
	if h.events != nil {
		r.HandleFunc("/api/events", h.RecentEventsHandler).Methods("GET")
	}

	r.HandleFunc("/api/health", h.HealthHandler).Methods("GET")
	r.HandleFunc("/api/network_settings", h.NetworkSettingsHandler).Methods("GET")
	r.HandleFunc("/api/ntp_check", h.NTPCheckHandler).Methods("GET")
	r.HandleFunc("/api/camera_check", h.CameraCheckHandler).Methods("GET")

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	accessLog := slog.NewLogLogger(h.log.Handler(), slog.LevelInfo)
	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(h.log.Handler(), slog.LevelError)),
	)(r)
	return handlers.CombinedLoggingHandler(accessLog.Writer(), recovered)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("error writing response", "err", err)
	}
}
