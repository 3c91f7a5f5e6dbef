package services

import (
	"math/rand"
	"sync"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

var _ ports.Palette = (*RandomPalette)(nil)

// basePalette is the default set of party colors.
var basePalette = []domain.RGB{
	{R: 255, G: 0, B: 0},
	{R: 0, G: 255, B: 0},
	{R: 0, G: 0, B: 255},
	{R: 255, G: 255, B: 0},
	{R: 0, G: 255, B: 255},
	{R: 255, G: 0, B: 255},
	{R: 128, G: 0, B: 0},
	{R: 128, G: 128, B: 0},
	{R: 0, G: 128, B: 0},
	{R: 128, G: 0, B: 128},
	{R: 0, G: 128, B: 128},
	{R: 0, G: 0, B: 128},
	{R: 255, G: 165, B: 0},
	{R: 255, G: 192, B: 203},
	{R: 255, G: 215, B: 0},
	{R: 75, G: 0, B: 130},
	{R: 240, G: 128, B: 128},
	{R: 95, G: 158, B: 160},
}

const jitter = 20

// RandomPalette picks a random palette color that differs from the previous
// one and nudges each RGB channel by up to ±20. Safe for concurrent use.
type RandomPalette struct {
	mu     sync.Mutex
	rng    *rand.Rand
	colors []domain.RGB
}

// NewRandomPalette seeds a palette. colors may be nil for the default set.
func NewRandomPalette(seed int64, colors []domain.RGB) *RandomPalette {
	if len(colors) == 0 {
		colors = basePalette
	}
	cp := make([]domain.RGB, len(colors))
	copy(cp, colors)
	return &RandomPalette{
		rng:    rand.New(rand.NewSource(seed)),
		colors: cp,
	}
}

// Next returns a color distinct from prev.
func (p *RandomPalette) Next(prev domain.Color) domain.Color {
	p.mu.Lock()
	defer p.mu.Unlock()

	var c domain.Color
	for attempt := 0; attempt < 8; attempt++ {
		base := p.colors[p.rng.Intn(len(p.colors))]
		c = domain.ColorFromRGB(domain.RGB{
			R: p.shift(base.R),
			G: p.shift(base.G),
			B: p.shift(base.B),
		})
		if c != prev {
			return c
		}
	}
	// Single-color palettes can land on prev every time.
	c.Hue = (c.Hue + 1) % 360
	return c
}

// shift requires p.mu.
func (p *RandomPalette) shift(v uint8) uint8 {
	n := int(v) + p.rng.Intn(2*jitter+1) - jitter
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}
