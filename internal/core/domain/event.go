package domain

import "time"

// Event is a message from the playback poller to the lighting engine.
// The set of variants is closed: SongChanged, ProgressAdjusted and Stopped.
type Event interface {
	isEvent()
	// Name is a short label used in logs and metrics.
	Name() string
}

// SongChanged announces a new track together with its analysis and the
// progress sample taken when the change was noticed.
type SongChanged struct {
	Analysis  AudioAnalysis
	Progress  time.Duration
	SampledAt time.Time
}

// ProgressAdjusted carries a fresh progress sample for the current track.
type ProgressAdjusted struct {
	TrackID   string
	Progress  time.Duration
	SampledAt time.Time
}

// Stopped means nothing is playing anymore.
type Stopped struct{}

func (SongChanged) isEvent()      {}
func (ProgressAdjusted) isEvent() {}
func (Stopped) isEvent()          {}

func (SongChanged) Name() string      { return "song_changed" }
func (ProgressAdjusted) Name() string { return "progress_adjusted" }
func (Stopped) Name() string          { return "stopped" }

// PlaybackSample is an authoritative progress snapshot.
type PlaybackSample struct {
	TrackID   string
	Progress  time.Duration
	SampledAt time.Time
}

// PlaybackState is what the poller learns from one currently-playing request.
type PlaybackState struct {
	PlaybackSample
	TrackName string
	IsPlaying bool
}
