package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

// CurrentlyPlaying returns what the user is playing. Nothing playing is a
// zero PlaybackState, not an error.
func (c *Client) CurrentlyPlaying(ctx context.Context) (domain.PlaybackState, error) {
	var body currentlyPlayingResponse
	ok, err := c.getJSON(ctx, "currently-playing", "/me/player/currently-playing", &body)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	if !ok {
		return domain.PlaybackState{}, nil
	}
	return mapPlaybackToDomain(body), nil
}

// Queue returns the upcoming track ids, next first.
func (c *Client) Queue(ctx context.Context) ([]string, error) {
	var body queueResponse
	ok, err := c.getJSON(ctx, "queue", "/me/player/queue", &body)
	if err != nil || !ok {
		return nil, err
	}
	ids := make([]string, 0, len(body.Queue))
	for _, t := range body.Queue {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// AudioAnalysis fetches and validates the analysis of a track. Malformed
// items are dropped and logged.
func (c *Client) AudioAnalysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error) {
	if trackID == "" {
		return domain.AudioAnalysis{}, fmt.Errorf("spotify adapter: %w", domain.ErrMissingTrackID)
	}

	var body analysisResponse
	ok, err := c.getJSON(ctx, "audio-analysis", "/audio-analysis/"+url.PathEscape(trackID), &body)
	if err != nil {
		return domain.AudioAnalysis{}, err
	}
	if !ok {
		return domain.AudioAnalysis{}, fmt.Errorf("spotify adapter: analysis for %s: %w", trackID, domain.ErrNotFound)
	}

	a, err := mapAnalysisToDomain(trackID, body)
	if err != nil {
		if !errors.Is(err, domain.ErrUpstreamData) {
			return domain.AudioAnalysis{}, fmt.Errorf("spotify adapter: %w", err)
		}
		c.log.Warn("dropped malformed analysis items", zap.String("track_id", trackID), zap.Error(err))
	}
	return a, nil
}
