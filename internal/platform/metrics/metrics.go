package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the lighting pipeline.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	eventsTotal     *prometheus.CounterVec
	ticksTotal      prometheus.Counter
	ticksSkipped    *prometheus.CounterVec
	commandsTotal   *prometheus.CounterVec
	sampleDrift     prometheus.Histogram
	busDepth        prometheus.Gauge
	spotifyRequests *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulselight_events_total",
		Help: "Events consumed by the lighting engine, by kind",
	}, []string{"kind"})
	ticksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulselight_ticks_total",
		Help: "Scheduling ticks evaluated while tracking a song",
	})
	ticksSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulselight_ticks_skipped_total",
		Help: "Scheduling ticks skipped, by reason",
	}, []string{"reason"})
	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulselight_commands_total",
		Help: "Device commands by kind and gate outcome",
	}, []string{"kind", "outcome"})
	sampleDrift := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulselight_sample_drift_seconds",
		Help:    "Reported progress minus extrapolated progress at sample time",
		Buckets: []float64{-2, -1, -0.5, -0.25, -0.1, -0.05, 0, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})
	busDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulselight_bus_depth",
		Help: "Events waiting on the event bus",
	})
	spotifyRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulselight_spotify_requests_total",
		Help: "Spotify Web API requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	registry.MustRegister(
		eventsTotal,
		ticksTotal,
		ticksSkipped,
		commandsTotal,
		sampleDrift,
		busDepth,
		spotifyRequests,
	)

	return &Metrics{
		registry:        registry,
		eventsTotal:     eventsTotal,
		ticksTotal:      ticksTotal,
		ticksSkipped:    ticksSkipped,
		commandsTotal:   commandsTotal,
		sampleDrift:     sampleDrift,
		busDepth:        busDepth,
		spotifyRequests: spotifyRequests,
	}
}

// IncEvent counts a consumed event.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// IncTick counts an evaluated tick.
func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
}

// IncTickSkipped counts a skipped tick.
func (m *Metrics) IncTickSkipped(reason string) {
	if m == nil {
		return
	}
	m.ticksSkipped.WithLabelValues(reason).Inc()
}

// IncCommand counts a gate decision.
func (m *Metrics) IncCommand(kind, outcome string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveDrift records sample drift in seconds.
func (m *Metrics) ObserveDrift(seconds float64) {
	if m == nil {
		return
	}
	m.sampleDrift.Observe(seconds)
}

// SetBusDepth sets the bus depth gauge.
func (m *Metrics) SetBusDepth(n int) {
	if m == nil {
		return
	}
	m.busDepth.Set(float64(n))
}

// IncSpotifyRequest counts a Spotify request.
func (m *Metrics) IncSpotifyRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.spotifyRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
