package domain

import "math"

// Color is a hue (0..359) and saturation (0..100) pair. Brightness travels separately.
type Color struct {
	Hue        int `json:"hue"`
	Saturation int `json:"saturation"`
}

// RGB is an 8-bit per channel color.
type RGB struct {
	R, G, B uint8
}

// ColorFromRGB converts an RGB triple to hue/saturation, dropping the value channel.
func ColorFromRGB(c RGB) Color {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	var h float64
	switch {
	case delta == 0:
		h = 0
	case max == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case max == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if max > 0 {
		s = delta / max
	}
	return Color{
		Hue:        int(math.Round(h)) % 360,
		Saturation: int(math.Round(s * 100)),
	}
}

// RGB renders the color at the given brightness (0..100).
func (c Color) RGB(brightness int) RGB {
	h := float64(((c.Hue % 360) + 360) % 360)
	s := clampUnit(float64(c.Saturation) / 100)
	v := clampUnit(float64(brightness) / 100)

	chroma := v * s
	x := chroma * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - chroma

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = chroma, x, 0
	case h < 120:
		r, g, b = x, chroma, 0
	case h < 180:
		r, g, b = 0, chroma, x
	case h < 240:
		r, g, b = 0, x, chroma
	case h < 300:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}
	return RGB{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
	}
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
