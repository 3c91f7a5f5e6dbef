package ports

import (
	"context"
	"time"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

// Device is one addressable light. Implementations must honour ctx for
// cancellation and deadlines; a failed call leaves the device untouched as
// far as the caller is concerned.
type Device interface {
	ID() string
	// ApplyBrightness sets brightness (0..100) over the transition.
	ApplyBrightness(ctx context.Context, percent int, transition time.Duration) error
	// ApplyColor sets hue (0..359), saturation (0..100) and brightness (0..100) over the transition.
	ApplyColor(ctx context.Context, hue, saturation, brightness int, transition time.Duration) error
}

// Palette picks the next color. It is the pluggable aesthetics policy.
type Palette interface {
	Next(prev domain.Color) domain.Color
}

// CommandObserver is told about every gate decision.
type CommandObserver interface {
	ObserveCommand(rec domain.CommandRecord)
}
