package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

// EventSource produces playback events onto the bus until ctx ends.
// A non-nil error means the source failed for good.
type EventSource interface {
	Listen(ctx context.Context, bus *EventBus) error
}

// Prefetcher warms the analysis cache for upcoming tracks.
type Prefetcher interface {
	Prefetch(trackID string)
}

// ListenerConfig sets the polling cadence.
type ListenerConfig struct {
	PollInterval time.Duration
	FailureDelay time.Duration
	// PrefetchDepth is how many queued tracks to prefetch on a song change.
	PrefetchDepth int
}

// DefaultListenerConfig polls once a second.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		PollInterval:  time.Second,
		FailureDelay:  time.Second,
		PrefetchDepth: 2,
	}
}

var _ EventSource = (*Listener)(nil)

// Listener polls the playback provider and turns what it sees into events.
type Listener struct {
	provider ports.PlaybackProvider
	repo     ports.AnalysisRepository
	prefetch Prefetcher
	cfg      ListenerConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewListener builds a Listener. repo and prefetch may be nil.
func NewListener(provider ports.PlaybackProvider, repo ports.AnalysisRepository, prefetch Prefetcher, cfg ListenerConfig, log *zap.Logger) *Listener {
	def := DefaultListenerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = def.FailureDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		provider: provider,
		repo:     repo,
		prefetch: prefetch,
		cfg:      cfg,
		log:      log.Named("listener"),
		now:      time.Now,
	}
}

// Listen polls until ctx is cancelled. Only an authorization failure ends it early.
func (l *Listener) Listen(ctx context.Context, bus *EventBus) error {
	session := uuid.New()
	log := l.log.With(zap.String("session", session.String()))
	log.Info("listener started", zap.Duration("poll_interval", l.cfg.PollInterval))

	var current string
	for {
		delay, err := l.step(ctx, bus, &current)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ports.ErrUnauthorized) {
				log.Error("spotify authorization failed", zap.Error(err))
				return fmt.Errorf("listener: %w", err)
			}
			log.Warn("poll failed", zap.Error(err))
		}
		if err := settle(ctx, delay); err != nil {
			return nil
		}
	}
}

// step runs one poll and returns how long to wait before the next one.
func (l *Listener) step(ctx context.Context, bus *EventBus, current *string) (time.Duration, error) {
	state, err := l.poll(ctx)
	if err != nil {
		return l.cfg.FailureDelay, err
	}

	if !state.IsPlaying || state.TrackID == "" {
		if *current != "" {
			*current = ""
			if err := bus.Publish(ctx, domain.Stopped{}); err != nil {
				return 0, err
			}
		}
		return l.cfg.PollInterval, nil
	}

	if state.TrackID != *current {
		analysis, err := l.analysis(ctx, state.TrackID)
		if err != nil {
			err = fmt.Errorf("listener: analysis for %s: %w", state.TrackID, err)
			// The previous track is no longer playing; stop lighting it while we retry.
			if *current != "" {
				*current = ""
				if perr := bus.Publish(ctx, domain.Stopped{}); perr != nil {
					return 0, perr
				}
			}
			return l.cfg.FailureDelay, err
		}
		l.log.Info("now playing",
			zap.String("track_id", state.TrackID),
			zap.String("name", state.TrackName),
			zap.Duration("progress", state.Progress),
		)
		if err := bus.Publish(ctx, domain.SongChanged{
			Analysis:  analysis,
			Progress:  state.Progress,
			SampledAt: state.SampledAt,
		}); err != nil {
			return 0, err
		}
		*current = state.TrackID
		l.prefetchQueue(ctx)
		return l.cfg.PollInterval, nil
	}

	if err := bus.Publish(ctx, domain.ProgressAdjusted{
		TrackID:   state.TrackID,
		Progress:  state.Progress,
		SampledAt: state.SampledAt,
	}); err != nil {
		return 0, err
	}
	return l.cfg.PollInterval, nil
}

// poll stamps the sample at the midpoint of the request round trip.
func (l *Listener) poll(ctx context.Context) (domain.PlaybackState, error) {
	start := l.now()
	state, err := l.provider.CurrentlyPlaying(ctx)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	end := l.now()
	state.SampledAt = start.Add(end.Sub(start) / 2)
	return state, nil
}

// analysis reads through the cache.
func (l *Listener) analysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error) {
	if l.repo != nil {
		a, err := l.repo.GetAnalysis(ctx, trackID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			l.log.Warn("analysis cache read failed", zap.String("track_id", trackID), zap.Error(err))
		}
	}

	a, err := l.provider.AudioAnalysis(ctx, trackID)
	if err != nil {
		return domain.AudioAnalysis{}, err
	}
	if l.repo != nil {
		if err := l.repo.SaveAnalysis(ctx, a); err != nil {
			l.log.Warn("analysis cache write failed", zap.String("track_id", trackID), zap.Error(err))
		}
	}
	return a, nil
}

func (l *Listener) prefetchQueue(ctx context.Context) {
	if l.prefetch == nil || l.cfg.PrefetchDepth <= 0 {
		return
	}
	ids, err := l.provider.Queue(ctx)
	if err != nil {
		l.log.Debug("queue unavailable", zap.Error(err))
		return
	}
	for i, id := range ids {
		if i >= l.cfg.PrefetchDepth {
			break
		}
		l.prefetch.Prefetch(id)
	}
}
