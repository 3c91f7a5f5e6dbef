package ports

import (
	"context"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

// AnalysisRepository caches analysis payloads by track id.
// GetAnalysis returns domain.ErrNotFound on a miss.
type AnalysisRepository interface {
	GetAnalysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error)
	SaveAnalysis(ctx context.Context, a domain.AudioAnalysis) error
}
