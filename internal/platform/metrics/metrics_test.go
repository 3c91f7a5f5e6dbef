package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncEvent("song_changed")
	m.IncTick()
	m.IncTickSkipped("stale")
	m.IncCommand("color", "applied")
	m.ObserveDrift(0.1)
	m.SetBusDepth(1)
	m.IncSpotifyRequest("currently_playing", 200)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.IncEvent("song_changed")
	m.IncEvent("song_changed")
	m.IncCommand("brightness", "dropped")
	m.IncTickSkipped("no_estimate")
	m.IncSpotifyRequest("audio_analysis", 429)

	body := scrape(t, m.Handler(nil))
	for _, want := range []string{
		`pulselight_events_total{kind="song_changed"} 2`,
		`pulselight_commands_total{kind="brightness",outcome="dropped"} 1`,
		`pulselight_ticks_skipped_total{reason="no_estimate"} 1`,
		`pulselight_spotify_requests_total{endpoint="audio_analysis",status="429"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestMetrics_HandlerRefreshesGauges(t *testing.T) {
	m := New()
	depth := 0
	h := m.Handler(func() {
		depth++
		m.SetBusDepth(depth)
	})

	if body := scrape(t, h); !strings.Contains(body, "pulselight_bus_depth 1") {
		t.Fatalf("gauge not refreshed:\n%s", body)
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status: %d", rec.Code)
	}
	return rec.Body.String()
}
