// Package colormap provides color schemes for cell visualization.
package colormap

import (
	"image/color"
	"math"
	"sort"
)

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	return c.rgba(t)
}

func (c LinearColormap) rgba(t float64) color.RGBA {
	if t <= 0 || math.IsNaN(t) {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := min(lower+1, len(c.colors)-1)
	return interpolate(c.colors[lower], c.colors[upper], idx-float64(lower))
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: lerp(c1.R, c2.R, t),
		G: lerp(c1.G, c2.G, t),
		B: lerp(c1.B, c2.B, t),
		A: 255,
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}

// Heat is the blue, green, red gradient used for cell values.
var Heat = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 255, 255},
		{0, 255, 0, 255},
		{255, 0, 0, 255},
	},
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Inferno colormap
var Inferno = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{40, 11, 84, 255},
		{101, 21, 110, 255},
		{159, 42, 99, 255},
		{212, 72, 66, 255},
		{245, 125, 21, 255},
		{250, 193, 39, 255},
		{252, 255, 164, 255},
	},
}

var named = map[string]LinearColormap{
	"heat":    Heat,
	"viridis": Viridis,
	"inferno": Inferno,
}

// ByName returns a registered linear colormap, falling back to Heat.
func ByName(name string) (LinearColormap, bool) {
	c, ok := named[name]
	if !ok {
		return Heat, false
	}
	return c, true
}

// Names lists the registered colormaps.
func Names() []string {
	out := make([]string, 0, len(named))
	for k := range named {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Normalize maps value into [0, 1] relative to [lo, hi]. With a degenerate
// range, values at or above lo map to 1 and the rest to 0.
func Normalize(value, lo, hi float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	if hi == lo {
		if value >= lo {
			return 1
		}
		return 0
	}
	t := (value - lo) / (hi - lo)
	return math.Max(0, math.Min(1, t))
}

// ValueToColor maps value within [lo, hi] onto the Heat gradient.
func ValueToColor(value, lo, hi float64) Hex {
	return Hex(Heat.rgba(Normalize(value, lo, hi)))
}

// ValueToColorIn is ValueToColor with an explicit colormap.
func ValueToColorIn(c LinearColormap, value, lo, hi float64) Hex {
	return Hex(c.rgba(Normalize(value, lo, hi)))
}
