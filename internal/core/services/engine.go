package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
	"github.com/ewilliams-labs/pulselight/internal/core/progress"
	"github.com/ewilliams-labs/pulselight/internal/platform/metrics"
)

// EngineConfig tunes the lighting decisions.
type EngineConfig struct {
	TickInterval     time.Duration
	BarConfidence    float64
	BrightnessMin    int
	BrightnessMax    int
	ClipSigma        float64
	MergeMinDuration time.Duration
	MergeRecursive   bool
}

// DefaultEngineConfig returns the stock tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:     20 * time.Millisecond,
		BarConfidence:    0.6,
		BrightnessMin:    0,
		BrightnessMax:    50,
		ClipSigma:        2,
		MergeMinDuration: 200 * time.Millisecond,
	}
}

// EngineState is NoTrack or Tracking.
type EngineState string

const (
	StateNoTrack  EngineState = "no_track"
	StateTracking EngineState = "tracking"
)

// EngineSnapshot is a point-in-time view of the engine for status reporting.
type EngineSnapshot struct {
	State        EngineState  `json:"state"`
	TrackID      string       `json:"track_id,omitempty"`
	Position     float64      `json:"position_seconds"`
	EstimateErr  string       `json:"estimate_error,omitempty"`
	BarStart     *float64     `json:"bar_start,omitempty"`
	SectionStart *float64     `json:"section_start,omitempty"`
	Color        domain.Color `json:"color"`
	Segments     int          `json:"segments"`
	Bars         int          `json:"bars"`
	Sections     int          `json:"sections"`
	Beats        int          `json:"beats"`
}

// cursor remembers the start of the last item acted on.
type cursor struct {
	start float64
	set   bool
}

func (c cursor) matches(it domain.TimedItem) bool {
	return c.set && c.start == it.Start
}

func cursorAt(it domain.TimedItem, ok bool) cursor {
	return cursor{start: it.Start, set: ok}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineMetrics records events, ticks and drift in m.
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// Engine turns playback events and the estimated position into device
// commands. Run drives it from a single goroutine.
type Engine struct {
	cfg       EngineConfig
	bus       *EventBus
	estimator *progress.Estimator
	gates     []*Gate
	palette   ports.Palette
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	inflight sync.WaitGroup

	mu            sync.RWMutex
	state         EngineState
	trackID       string
	segments      *domain.Timeline
	bars          *domain.Timeline
	sections      *domain.Timeline
	beats         *domain.Timeline
	loudness      domain.LoudnessMapper
	barCursor     cursor
	sectionCursor cursor
	segmentCursor cursor
	color         domain.Color
}

// NewEngine wires an engine. Zero-valued config fields take defaults.
func NewEngine(cfg EngineConfig, bus *EventBus, estimator *progress.Estimator, gates []*Gate, palette ports.Palette, log *zap.Logger, opts ...EngineOption) *Engine {
	def := DefaultEngineConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BrightnessMax <= cfg.BrightnessMin {
		cfg.BrightnessMin, cfg.BrightnessMax = def.BrightnessMin, def.BrightnessMax
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		bus:       bus,
		estimator: estimator,
		gates:     gates,
		palette:   palette,
		log:       log.Named("engine"),
		now:       time.Now,
		state:     StateNoTrack,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Gates returns the gates commands are fanned out to.
func (e *Engine) Gates() []*Gate {
	return e.gates
}

// Run consumes events and ticks until ctx is cancelled, then waits for
// in-flight device commands to return.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer e.inflight.Wait()

	e.log.Info("engine started", zap.Duration("tick", e.cfg.TickInterval), zap.Int("devices", len(e.gates)))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping")
			return nil
		case ev := <-e.bus.Events():
			e.metrics.SetBusDepth(e.bus.Len())
			if err := e.handle(ev); err != nil {
				e.log.Error("event rejected", zap.Error(err))
			}
		case now := <-ticker.C:
			e.safeTick(ctx, now)
		}
	}
}

// handle applies one event to the engine state.
func (e *Engine) handle(ev domain.Event) error {
	switch ev := ev.(type) {
	case domain.SongChanged:
		e.metrics.IncEvent(ev.Name())
		e.onSongChanged(ev)
	case domain.ProgressAdjusted:
		e.metrics.IncEvent(ev.Name())
		e.onProgressAdjusted(ev)
	case domain.Stopped:
		e.metrics.IncEvent(ev.Name())
		e.onStopped()
	default:
		return fmt.Errorf("engine: %w: %T", domain.ErrUnknownEvent, ev)
	}
	return nil
}

func (e *Engine) onSongChanged(ev domain.SongChanged) {
	a := ev.Analysis
	minDur := e.cfg.MergeMinDuration.Seconds()
	var segments []domain.TimedItem
	if e.cfg.MergeRecursive {
		segments = domain.MergeShortItemsRecursive(a.Segments, minDur)
	} else {
		segments = domain.MergeShortItems(a.Segments, minDur)
	}

	e.mu.RLock()
	color := e.color
	e.mu.RUnlock()
	if e.palette != nil {
		color = e.palette.Next(color)
	}

	e.mu.Lock()
	e.trackID = a.TrackID
	e.segments = domain.NewTimeline(segments)
	e.bars = domain.NewTimeline(a.Bars)
	e.sections = domain.NewTimeline(a.Sections)
	e.beats = domain.NewTimeline(a.Beats)
	e.loudness = domain.NewLoudnessMapper(segments, e.cfg.BrightnessMin, e.cfg.BrightnessMax, e.cfg.ClipSigma)
	e.resetCursorsLocked()
	e.color = color
	e.state = StateTracking
	e.mu.Unlock()

	e.estimator.Reset(domain.PlaybackSample{
		TrackID:   a.TrackID,
		Progress:  ev.Progress,
		SampledAt: ev.SampledAt,
	})

	lo, hi := e.loudness.Range()
	e.log.Info("song changed",
		zap.String("track_id", a.TrackID),
		zap.Int("segments", len(a.Segments)),
		zap.Int("merged_segments", len(segments)),
		zap.Int("bars", len(a.Bars)),
		zap.Int("sections", len(a.Sections)),
		zap.Float64("loudness_lo", lo),
		zap.Float64("loudness_hi", hi),
	)
}

func (e *Engine) onProgressAdjusted(ev domain.ProgressAdjusted) {
	e.mu.RLock()
	state, trackID := e.state, e.trackID
	e.mu.RUnlock()

	if state != StateTracking {
		e.log.Debug("progress ignored, no track")
		return
	}
	if ev.TrackID != trackID {
		e.log.Debug("progress ignored, other track", zap.String("track_id", ev.TrackID))
		return
	}
	if last, ok := e.estimator.Last(); ok && ev.SampledAt.Before(last.SampledAt) {
		e.log.Debug("progress ignored, out of order", zap.Time("sampled_at", ev.SampledAt))
		return
	}

	verdict, drift := e.estimator.OnSample(ev.Progress, ev.SampledAt)
	e.metrics.ObserveDrift(drift.Seconds())
	if verdict == progress.Regressed {
		e.log.Info("playback regressed, resetting cursors", zap.Duration("drift", drift))
		e.mu.Lock()
		e.resetCursorsLocked()
		e.mu.Unlock()
	}
}

func (e *Engine) onStopped() {
	e.mu.Lock()
	e.state = StateNoTrack
	e.trackID = ""
	e.mu.Unlock()
	e.estimator.OnStop()
	e.log.Info("playback stopped")
}

// resetCursorsLocked points the cursors at the first bar and section. Requires e.mu.
func (e *Engine) resetCursorsLocked() {
	e.barCursor = cursorAt(e.bars.At(0))
	e.sectionCursor = cursorAt(e.sections.At(0))
	e.segmentCursor = cursor{}
}

func (e *Engine) safeTick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.IncTickSkipped("error")
			e.log.Error("tick panicked", zap.Any("panic", r))
		}
	}()

	if err := e.tick(ctx, now); err != nil {
		switch {
		case errors.Is(err, progress.ErrStaleEstimate):
			e.metrics.IncTickSkipped("stale")
		case errors.Is(err, progress.ErrNoEstimate):
			e.metrics.IncTickSkipped("no_estimate")
		default:
			e.metrics.IncTickSkipped("error")
			e.log.Error("tick failed", zap.Error(err))
		}
	}
}

// tick evaluates the bar and segment rules at now and fans out at most one command.
func (e *Engine) tick(ctx context.Context, now time.Time) error {
	e.mu.RLock()
	tracking := e.state == StateTracking
	e.mu.RUnlock()
	if !tracking {
		return nil
	}

	pos, err := e.estimator.Estimate(now)
	if err != nil {
		return err
	}
	e.metrics.IncTick()
	t := pos.Seconds()

	cmd, ok := e.decide(t)
	if !ok {
		return nil
	}
	e.dispatch(ctx, cmd)
	return nil
}

// decide applies the bar-transition rule, falling back to the segment-loudness rule.
func (e *Engine) decide(t float64) (domain.Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bar, barOK := e.bars.Current(t)
	section, sectionOK := e.sections.Current(t)
	sectionChanged := sectionOK && !e.sectionCursor.matches(section)

	if barOK && !e.barCursor.matches(bar) && (bar.Confidence > e.cfg.BarConfidence || sectionChanged) {
		if e.palette != nil {
			e.color = e.palette.Next(e.color)
		}
		e.barCursor = cursorAt(bar, true)
		if sectionOK {
			e.sectionCursor = cursorAt(section, true)
		}
		e.log.Debug("bar transition",
			zap.Float64("t", t),
			zap.Float64("bar_start", bar.Start),
			zap.Bool("section_changed", sectionChanged),
		)
		return domain.Command{
			Kind:       domain.CommandColor,
			Color:      e.color,
			Brightness: e.brightnessAtLocked(t),
			Transition: seconds(bar.Remaining(t)),
		}, true
	}

	next, ok := e.segments.Next(t, 1)
	if !ok || e.segmentCursor.matches(next) {
		return domain.Command{}, false
	}
	if next.Start-t > e.cfg.TickInterval.Seconds() {
		return domain.Command{}, false
	}
	e.segmentCursor = cursorAt(next, true)
	return domain.Command{
		Kind:       domain.CommandBrightness,
		Brightness: e.loudness.Brightness(next.LoudnessStart),
		Transition: seconds(next.Duration),
	}, true
}

// brightnessAtLocked maps the loudness of the segment playing at t. Requires e.mu.
func (e *Engine) brightnessAtLocked(t float64) int {
	seg, ok := e.segments.Current(t)
	if !ok {
		seg, ok = e.segments.At(0)
	}
	if !ok {
		return e.cfg.BrightnessMax
	}
	return e.loudness.Brightness(seg.LoudnessStart)
}

// dispatch sends cmd to every gate concurrently.
func (e *Engine) dispatch(ctx context.Context, cmd domain.Command) {
	for _, g := range e.gates {
		g := g
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			switch cmd.Kind {
			case domain.CommandColor:
				_, _ = g.SetColor(ctx, cmd.Color, cmd.Brightness, cmd.Transition)
			case domain.CommandBrightness:
				_, _ = g.SetBrightness(ctx, cmd.Brightness, cmd.Transition)
			}
		}()
	}
}

// Wait blocks until every dispatched command has returned.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Snapshot reports the engine's observable state.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.RLock()
	snap := EngineSnapshot{
		State:   e.state,
		TrackID: e.trackID,
		Color:   e.color,
	}
	if e.state == StateTracking {
		snap.Segments = e.segments.Len()
		snap.Bars = e.bars.Len()
		snap.Sections = e.sections.Len()
		snap.Beats = e.beats.Len()
		if e.barCursor.set {
			v := e.barCursor.start
			snap.BarStart = &v
		}
		if e.sectionCursor.set {
			v := e.sectionCursor.start
			snap.SectionStart = &v
		}
	}
	e.mu.RUnlock()

	if snap.State == StateTracking {
		pos, err := e.estimator.Estimate(e.now())
		if err != nil {
			snap.EstimateErr = err.Error()
		} else {
			snap.Position = pos.Seconds()
		}
	}
	return snap
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
