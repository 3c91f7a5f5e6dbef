package spotify

import (
	"time"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

func mapPlaybackToDomain(r currentlyPlayingResponse) domain.PlaybackState {
	st := domain.PlaybackState{IsPlaying: r.IsPlaying}
	st.Progress = time.Duration(r.ProgressMs) * time.Millisecond
	// Ads and podcast episodes carry no track analysis.
	if r.Item != nil && (r.CurrentlyPlayingType == "" || r.CurrentlyPlayingType == "track") {
		st.TrackID = r.Item.ID
		st.TrackName = r.Item.Name
	}
	return st
}

func mapIntervals(in []spotifyInterval) []domain.TimedItem {
	out := make([]domain.TimedItem, len(in))
	for i, it := range in {
		out[i] = domain.TimedItem{Start: it.Start, Duration: it.Duration, Confidence: it.Confidence}
	}
	return out
}

func mapSections(in []spotifySection) []domain.TimedItem {
	out := make([]domain.TimedItem, len(in))
	for i, s := range in {
		out[i] = domain.TimedItem{
			Start:      s.Start,
			Duration:   s.Duration,
			Confidence: s.Confidence,
			ItemMeta: domain.ItemMeta{
				LoudnessStart: s.Loudness,
				LoudnessMax:   s.Loudness,
				LoudnessEnd:   s.Loudness,
				Loudness:      s.Loudness,
				Tempo:         s.Tempo,
				Key:           s.Key,
				Mode:          s.Mode,
				TimeSignature: s.TimeSignature,
			},
		}
	}
	return out
}

func mapSegments(in []spotifySegment) []domain.TimedItem {
	out := make([]domain.TimedItem, len(in))
	for i, s := range in {
		loudMax := s.LoudnessStart
		if s.LoudnessMax != nil {
			loudMax = *s.LoudnessMax
		}
		loudEnd := s.LoudnessStart
		if s.LoudnessEnd != nil {
			loudEnd = *s.LoudnessEnd
		}
		out[i] = domain.TimedItem{
			Start:      s.Start,
			Duration:   s.Duration,
			Confidence: s.Confidence,
			ItemMeta: domain.ItemMeta{
				LoudnessStart:   s.LoudnessStart,
				LoudnessMax:     loudMax,
				LoudnessMaxTime: s.LoudnessMaxTime,
				LoudnessEnd:     loudEnd,
				Loudness:        s.LoudnessStart,
				Pitches:         s.Pitches,
				Timbre:          s.Timbre,
			},
		}
	}
	return out
}

// mapAnalysisToDomain validates the payload. The error, if any, lists the
// items that were dropped; the returned analysis is still usable.
func mapAnalysisToDomain(trackID string, r analysisResponse) (domain.AudioAnalysis, error) {
	return domain.NewAudioAnalysis(
		trackID,
		r.Track.Duration,
		r.Track.Tempo,
		mapSegments(r.Segments),
		mapSections(r.Sections),
		mapIntervals(r.Bars),
		mapIntervals(r.Beats),
	)
}
