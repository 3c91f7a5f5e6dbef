package domain

import (
	"errors"
	"math"
)

// ItemKind names one of the four analysis collections.
type ItemKind string

const (
	KindSegment ItemKind = "segment"
	KindSection ItemKind = "section"
	KindBar     ItemKind = "bar"
	KindBeat    ItemKind = "beat"
)

// ItemMeta carries the optional, kind-specific fields of a TimedItem.
// Segments fill the loudness curve and the pitch/timbre vectors, sections
// fill Loudness/Tempo/Key/Mode/TimeSignature. Bars and beats leave it empty.
type ItemMeta struct {
	LoudnessStart   float64
	LoudnessMax     float64
	LoudnessMaxTime float64
	LoudnessEnd     float64
	Pitches         []float64
	Timbre          []float64

	Loudness      float64
	Tempo         float64
	Key           int
	Mode          int
	TimeSignature int
}

// TimedItem is one entry of an analysis collection. Times are in seconds.
type TimedItem struct {
	Start      float64
	Duration   float64
	Confidence float64
	ItemMeta
}

// End returns Start + Duration.
func (it TimedItem) End() float64 {
	return it.Start + it.Duration
}

// Remaining returns how much of the item is left at time t, never negative.
func (it TimedItem) Remaining(t float64) float64 {
	r := it.Duration - (t - it.Start)
	if r < 0 {
		return 0
	}
	return r
}

// AudioAnalysis is the immutable, track-scoped analysis of a song.
type AudioAnalysis struct {
	TrackID  string
	Duration float64
	Tempo    float64
	Segments []TimedItem
	Sections []TimedItem
	Bars     []TimedItem
	Beats    []TimedItem
}

// NewAudioAnalysis validates raw collections and returns a clean analysis.
// Invalid items are dropped; each one is reported in the returned error as an
// UpstreamDataError (joined). A non-nil error therefore does not mean the
// analysis is unusable, only that some items were skipped.
func NewAudioAnalysis(trackID string, duration, tempo float64, segments, sections, bars, beats []TimedItem) (AudioAnalysis, error) {
	var errs []error
	a := AudioAnalysis{
		TrackID:  trackID,
		Duration: duration,
		Tempo:    tempo,
		Segments: sanitize(KindSegment, segments, &errs),
		Sections: sanitize(KindSection, sections, &errs),
		Bars:     sanitize(KindBar, bars, &errs),
		Beats:    sanitize(KindBeat, beats, &errs),
	}
	if trackID == "" {
		errs = append(errs, ErrMissingTrackID)
	}
	return a, errors.Join(errs...)
}

func sanitize(kind ItemKind, items []TimedItem, errs *[]error) []TimedItem {
	out := make([]TimedItem, 0, len(items))
	for i, it := range items {
		switch {
		case math.IsNaN(it.Start) || math.IsInf(it.Start, 0) || it.Start < 0:
			*errs = append(*errs, &UpstreamDataError{Kind: kind, Index: i, Reason: "invalid start"})
			continue
		case math.IsNaN(it.Duration) || math.IsInf(it.Duration, 0) || it.Duration <= 0:
			*errs = append(*errs, &UpstreamDataError{Kind: kind, Index: i, Reason: "non-positive duration"})
			continue
		}
		if math.IsNaN(it.Confidence) {
			it.Confidence = 0
		}
		it.Confidence = math.Max(0, math.Min(1, it.Confidence))
		out = append(out, it)
	}
	return out
}

// IsEmpty reports whether the analysis has nothing to drive lights with.
func (a AudioAnalysis) IsEmpty() bool {
	return len(a.Bars) == 0 && len(a.Segments) == 0
}
