package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/services"
	"github.com/ewilliams-labs/pulselight/internal/platform/metrics"
)

// StatusSource is what the status endpoint reads. *services.Engine satisfies it.
type StatusSource interface {
	Snapshot() services.EngineSnapshot
	Gates() []*services.Gate
}

// DeviceStatus is one gate's view of its device.
type DeviceStatus struct {
	ID    string             `json:"id"`
	State domain.DeviceState `json:"state"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Engine    services.EngineSnapshot `json:"engine"`
	Devices   []DeviceStatus          `json:"devices"`
	Clients   int                     `json:"ws_clients"`
	StartedAt time.Time               `json:"started_at"`
}

// Handler manages the HTTP interface for the running pipeline.
type Handler struct {
	status    StatusSource
	hub       *Hub
	metrics   *metrics.Metrics
	gauges    func()
	log       *zap.Logger
	startedAt time.Time
	router    chi.Router
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMetrics serves m at /metrics. gauges runs before each scrape.
func WithMetrics(m *metrics.Metrics, gauges func()) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
		h.gauges = gauges
	}
}

// WithHub serves the websocket feed at /ws.
func WithHub(hub *Hub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(status StatusSource, opts ...HandlerOption) *Handler {
	h := &Handler{
		status:    status,
		log:       zap.NewNop(),
		startedAt: time.Now().UTC(),
		router:    chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("rest")
	h.routes()
	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.Use(middleware.Recoverer)
	h.router.Use(RequestLogger(h.log))

	h.router.Get("/health", h.HealthCheck)
	h.router.Get("/status", h.Status)
	if h.metrics != nil {
		h.router.Method(http.MethodGet, "/metrics", h.metrics.Handler(h.gauges))
	}
	if h.hub != nil {
		h.router.Get("/ws", h.hub.ServeWS)
	}
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	gates := h.status.Gates()
	resp := StatusResponse{
		Engine:    h.status.Snapshot(),
		Devices:   make([]DeviceStatus, 0, len(gates)),
		StartedAt: h.startedAt,
	}
	for _, g := range gates {
		resp.Devices = append(resp.Devices, DeviceStatus{ID: g.DeviceID(), State: g.State()})
	}
	if h.hub != nil {
		resp.Clients = h.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
