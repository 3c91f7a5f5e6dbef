package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

func playing(trackID string, progress time.Duration) domain.PlaybackState {
	return domain.PlaybackState{
		PlaybackSample: domain.PlaybackSample{TrackID: trackID, Progress: progress},
		IsPlaying:      true,
	}
}

func drain(bus *EventBus) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-bus.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestListener_Step(t *testing.T) {
	analysis := domain.AudioAnalysis{TrackID: "t1", Bars: []domain.TimedItem{{Start: 0, Duration: 2, Confidence: 1}}}

	tests := []struct {
		name       string
		current    string
		state      domain.PlaybackState
		cached     bool
		wantEvent  string
		wantCur    string
		wantFetch  int
		wantSaved  int
		wantPrefet []string
	}{
		{
			name:       "new track fetches, caches and prefetches",
			state:      playing("t1", 3*time.Second),
			wantEvent:  "song_changed",
			wantCur:    "t1",
			wantFetch:  1,
			wantSaved:  1,
			wantPrefet: []string{"q1", "q2"},
		},
		{
			name:       "new track served from cache",
			state:      playing("t1", 0),
			cached:     true,
			wantEvent:  "song_changed",
			wantCur:    "t1",
			wantPrefet: []string{"q1", "q2"},
		},
		{
			name:      "same track publishes progress",
			current:   "t1",
			state:     playing("t1", 10*time.Second),
			wantEvent: "progress_adjusted",
			wantCur:   "t1",
		},
		{
			name:      "pause after playing publishes stopped",
			current:   "t1",
			state:     domain.PlaybackState{PlaybackSample: domain.PlaybackSample{TrackID: "t1"}},
			wantEvent: "stopped",
		},
		{
			name:  "still stopped publishes nothing",
			state: domain.PlaybackState{},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			provider := &mockProvider{
				states:   []domain.PlaybackState{tc.state},
				analysis: analysis,
				queue:    []string{"q1", "q2", "q3"},
			}
			repo := newMockRepo()
			if tc.cached {
				repo.items["t1"] = analysis
			}
			pf := &mockPrefetcher{}
			l := NewListener(provider, repo, pf, DefaultListenerConfig(), zap.NewNop())
			bus := NewEventBus(4)

			current := tc.current
			if _, err := l.step(context.Background(), bus, &current); err != nil {
				t.Fatalf("step: %v", err)
			}

			events := drain(bus)
			switch {
			case tc.wantEvent == "" && len(events) != 0:
				t.Fatalf("events: got %d, want none", len(events))
			case tc.wantEvent != "" && (len(events) != 1 || events[0].Name() != tc.wantEvent):
				t.Fatalf("events: got %v, want one %s", events, tc.wantEvent)
			}
			if current != tc.wantCur {
				t.Fatalf("current: got %q, want %q", current, tc.wantCur)
			}
			if provider.analysisCalls != tc.wantFetch {
				t.Fatalf("analysis fetches: got %d, want %d", provider.analysisCalls, tc.wantFetch)
			}
			if repo.saves != tc.wantSaved {
				t.Fatalf("cache saves: got %d, want %d", repo.saves, tc.wantSaved)
			}
			if got := pf.snapshot(); len(got) != len(tc.wantPrefet) {
				t.Fatalf("prefetched: got %v, want %v", got, tc.wantPrefet)
			}
		})
	}
}

func TestListener_SampledAtIsRoundTripMidpoint(t *testing.T) {
	provider := &mockProvider{states: []domain.PlaybackState{playing("t1", time.Second)}}
	l := NewListener(provider, nil, nil, DefaultListenerConfig(), zap.NewNop())

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{t0, t0.Add(200 * time.Millisecond)}
	l.now = func() time.Time {
		now := clock[0]
		clock = clock[1:]
		return now
	}

	state, err := l.poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if want := t0.Add(100 * time.Millisecond); !state.SampledAt.Equal(want) {
		t.Fatalf("sampled at: got %s, want %s", state.SampledAt, want)
	}
}

func TestListener_AnalysisFailureRetriesSameTrack(t *testing.T) {
	provider := &mockProvider{
		states:      []domain.PlaybackState{playing("t1", 0)},
		analysisErr: errors.New("upstream 500"),
	}
	cfg := DefaultListenerConfig()
	cfg.FailureDelay = 7 * time.Millisecond
	l := NewListener(provider, nil, nil, cfg, zap.NewNop())
	bus := NewEventBus(2)

	current := ""
	delay, err := l.step(context.Background(), bus, &current)
	if err == nil {
		t.Fatal("expected an error")
	}
	if delay != cfg.FailureDelay {
		t.Fatalf("delay: got %s, want %s", delay, cfg.FailureDelay)
	}
	if current != "" || bus.Len() != 0 {
		t.Fatalf("track must not be marked current on failure")
	}
}

func TestListener_AnalysisFailureStopsPreviousTrack(t *testing.T) {
	provider := &mockProvider{
		states:      []domain.PlaybackState{playing("t2", 0)},
		analysisErr: errors.New("upstream 500"),
	}
	l := NewListener(provider, nil, nil, DefaultListenerConfig(), zap.NewNop())
	bus := NewEventBus(2)
	ctx := context.Background()

	current := "t1"
	if _, err := l.step(ctx, bus, &current); err == nil {
		t.Fatal("expected an error")
	}
	if current != "" {
		t.Fatalf("current: got %q, want cleared", current)
	}
	evs := drain(bus)
	if len(evs) != 1 {
		t.Fatalf("events: got %d, want 1", len(evs))
	}
	if _, ok := evs[0].(domain.Stopped); !ok {
		t.Fatalf("event: got %T, want Stopped", evs[0])
	}

	// Later failures for the same track publish nothing more.
	if _, err := l.step(ctx, bus, &current); err == nil {
		t.Fatal("expected an error")
	}
	if n := bus.Len(); n != 0 {
		t.Fatalf("bus depth: got %d, want 0", n)
	}
}

func TestListener_ListenStopsOnUnauthorized(t *testing.T) {
	provider := &mockProvider{pollErr: &ports.StatusError{Endpoint: "currently-playing", Status: 401}}
	l := NewListener(provider, nil, nil, DefaultListenerConfig(), zap.NewNop())

	err := l.Listen(context.Background(), NewEventBus(1))
	if !errors.Is(err, ports.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestListener_ListenReturnsNilOnCancel(t *testing.T) {
	provider := &mockProvider{pollErr: errors.New("network down")}
	cfg := DefaultListenerConfig()
	cfg.FailureDelay = 5 * time.Millisecond
	l := NewListener(provider, nil, nil, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Listen(ctx, NewEventBus(1)); err != nil {
		t.Fatalf("Listen: %v", err)
	}
}

// --- Mocks ---

// mockProvider replays states in order, repeating the last one.
type mockProvider struct {
	mu            sync.Mutex
	states        []domain.PlaybackState
	pollErr       error
	analysis      domain.AudioAnalysis
	analysisErr   error
	analysisCalls int
	queue         []string
}

func (m *mockProvider) CurrentlyPlaying(ctx context.Context) (domain.PlaybackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return domain.PlaybackState{}, m.pollErr
	}
	if len(m.states) == 0 {
		return domain.PlaybackState{}, nil
	}
	st := m.states[0]
	if len(m.states) > 1 {
		m.states = m.states[1:]
	}
	return st, nil
}

func (m *mockProvider) AudioAnalysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysisCalls++
	if m.analysisErr != nil {
		return domain.AudioAnalysis{}, m.analysisErr
	}
	a := m.analysis
	a.TrackID = trackID
	return a, nil
}

func (m *mockProvider) Queue(ctx context.Context) ([]string, error) {
	return m.queue, nil
}

type mockRepo struct {
	items map[string]domain.AudioAnalysis
	saves int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: map[string]domain.AudioAnalysis{}}
}

func (m *mockRepo) GetAnalysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error) {
	a, ok := m.items[trackID]
	if !ok {
		return domain.AudioAnalysis{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *mockRepo) SaveAnalysis(ctx context.Context, a domain.AudioAnalysis) error {
	m.saves++
	m.items[a.TrackID] = a
	return nil
}

type mockPrefetcher struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockPrefetcher) Prefetch(trackID string) {
	m.mu.Lock()
	m.ids = append(m.ids, trackID)
	m.mu.Unlock()
}

func (m *mockPrefetcher) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}
