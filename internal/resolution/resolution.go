// Package resolution maps continuous map zoom levels onto grid resolutions.
package resolution

import "math"

// Zoom bounds covered by the lookup table.
const (
	MinZoom = 4
	MaxZoom = 24
)

// zoomToRes is hand-tuned: several zoom levels share a resolution so cell
// counts per screen stay in the low thousands.
var zoomToRes = map[int]int{
	4: 1, 5: 1, 6: 2, 7: 3, 8: 3, 9: 4, 10: 5, 11: 6, 12: 6, 13: 7,
	14: 8, 15: 9, 16: 9, 17: 10, 18: 10, 19: 11, 20: 11, 21: 12, 22: 13, 23: 14, 24: 15,
}

// defaultRes is the lowest resolution in the table.
var defaultRes = func() int {
	lowest := math.MaxInt
	for _, r := range zoomToRes {
		lowest = min(lowest, r)
	}
	return lowest
}()

// Clamp rounds zoom to the nearest integer and clamps it to [MinZoom, MaxZoom].
func Clamp(zoom float64) int {
	if math.IsNaN(zoom) {
		return MinZoom
	}
	z := math.Round(zoom)
	switch {
	case z < MinZoom:
		return MinZoom
	case z > MaxZoom:
		return MaxZoom
	}
	return int(z)
}

// ForZoom returns the grid resolution for a map zoom level.
func ForZoom(zoom float64) int {
	if r, ok := zoomToRes[Clamp(zoom)]; ok {
		return r
	}
	return defaultRes
}

// Table returns a copy of the zoom to resolution table.
func Table() map[int]int {
	out := make(map[int]int, len(zoomToRes))
	for z, r := range zoomToRes {
		out[z] = r
	}
	return out
}
