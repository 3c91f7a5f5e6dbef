// Package progress extrapolates the playback position between the
// infrequent samples reported by the playback provider.
package progress

import (
	"errors"
	"sync"
	"time"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

var (
	// ErrNoEstimate means no track is being tracked. It is not the same as position zero.
	ErrNoEstimate = errors.New("progress: no estimate available")
	// ErrStaleEstimate means the last sample is older than the staleness window.
	ErrStaleEstimate = errors.New("progress: estimate is stale")
)

// Verdict classifies a sample relative to the running estimate.
type Verdict int

const (
	// Started: the estimator was idle.
	Started Verdict = iota
	// Advanced: the sample is at or ahead of the extrapolated position.
	Advanced
	// Corrected: the sample is behind, but within the regression tolerance.
	Corrected
	// Regressed: the sample is further behind than the tolerance allows. The
	// caller should treat it like a restart (seek back, repeat).
	Regressed
)

func (v Verdict) String() string {
	switch v {
	case Started:
		return "started"
	case Advanced:
		return "advanced"
	case Corrected:
		return "corrected"
	case Regressed:
		return "regressed"
	default:
		return "unknown"
	}
}

// Options tunes the Estimator.
type Options struct {
	// RegressionTolerance is how far behind the estimate a sample may be and still count as a correction.
	RegressionTolerance time.Duration
	// StaleAfter bounds the age of the last sample; zero disables the check.
	StaleAfter time.Duration
}

// Estimator holds the last authoritative sample and extrapolates from it
// against the wall clock. It is safe for concurrent use.
type Estimator struct {
	opts Options

	mu       sync.Mutex
	tracking bool
	last     domain.PlaybackSample
}

// NewEstimator returns an idle Estimator.
func NewEstimator(opts Options) *Estimator {
	if opts.RegressionTolerance < 0 {
		opts.RegressionTolerance = 0
	}
	return &Estimator{opts: opts}
}

// OnSample stores the sample unconditionally and reports how it relates to the
// previous extrapolation. The returned drift is sample minus extrapolated
// position (zero when Started).
func (e *Estimator) OnSample(progress time.Duration, sampledAt time.Time) (Verdict, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if progress < 0 {
		progress = 0
	}

	verdict := Started
	var drift time.Duration
	if e.tracking {
		drift = progress - e.extrapolate(sampledAt)
		switch {
		case drift >= 0:
			verdict = Advanced
		case -drift <= e.opts.RegressionTolerance:
			verdict = Corrected
		default:
			verdict = Regressed
		}
	}

	e.tracking = true
	e.last = domain.PlaybackSample{
		TrackID:   e.last.TrackID,
		Progress:  progress,
		SampledAt: sampledAt,
	}
	return verdict, drift
}

// Reset starts tracking a new track from the given sample.
func (e *Estimator) Reset(sample domain.PlaybackSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sample.Progress < 0 {
		sample.Progress = 0
	}
	e.tracking = true
	e.last = sample
}

// OnStop returns the estimator to idle.
func (e *Estimator) OnStop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tracking = false
	e.last = domain.PlaybackSample{}
}

// Estimate returns the extrapolated position at now.
func (e *Estimator) Estimate(now time.Time) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tracking {
		return 0, ErrNoEstimate
	}
	if e.opts.StaleAfter > 0 && now.Sub(e.last.SampledAt) > e.opts.StaleAfter {
		return 0, ErrStaleEstimate
	}
	return e.extrapolate(now), nil
}

// Last returns the most recent sample, if tracking.
func (e *Estimator) Last() (domain.PlaybackSample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last, e.tracking
}

// extrapolate requires e.mu.
func (e *Estimator) extrapolate(now time.Time) time.Duration {
	est := e.last.Progress + now.Sub(e.last.SampledAt)
	if est < 0 {
		return 0
	}
	return est
}
