package services

import (
	"testing"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

func TestRandomPalette_NeverRepeatsPrevious(t *testing.T) {
	p := NewRandomPalette(42, nil)
	prev := domain.Color{}
	for i := 0; i < 500; i++ {
		next := p.Next(prev)
		if next == prev {
			t.Fatalf("draw %d repeated %+v", i, prev)
		}
		if next.Hue < 0 || next.Hue > 359 || next.Saturation < 0 || next.Saturation > 100 {
			t.Fatalf("draw %d out of range: %+v", i, next)
		}
		prev = next
	}
}

func TestRandomPalette_SingleColor(t *testing.T) {
	// Jittered black yields few distinct hues, so collisions are likely.
	p := NewRandomPalette(1, []domain.RGB{{R: 0, G: 0, B: 0}})
	prev := p.Next(domain.Color{Hue: 300, Saturation: 100})
	for i := 0; i < 50; i++ {
		next := p.Next(prev)
		if next == prev {
			t.Fatalf("draw %d repeated %+v", i, prev)
		}
		prev = next
	}
}

func TestRandomPalette_Deterministic(t *testing.T) {
	a := NewRandomPalette(9, nil)
	b := NewRandomPalette(9, nil)
	prev := domain.Color{}
	for i := 0; i < 20; i++ {
		ca, cb := a.Next(prev), b.Next(prev)
		if ca != cb {
			t.Fatalf("draw %d: %+v != %+v", i, ca, cb)
		}
		prev = ca
	}
}
