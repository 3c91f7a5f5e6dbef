package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

// ErrUnauthorized indicates the provider rejected our credentials. It is the
// only error that stops the listener.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError provides context for an unexpected provider response.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Status)
}

func (e StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == 401
}

// PlaybackProvider is the playback-state and analysis source (Spotify).
type PlaybackProvider interface {
	CurrentlyPlaying(ctx context.Context) (domain.PlaybackState, error)
	AudioAnalysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error)
	// Queue returns the ids of the upcoming tracks, next first.
	Queue(ctx context.Context) ([]string, error)
}
