package geo

import "math"

// TileBounds returns the geographic bounds of slippy-map tile z/x/y.
func TileBounds(z, x, y int) Rect {
	n := math.Exp2(float64(z))
	west := float64(x)/n*360 - 180
	east := float64(x+1)/n*360 - 180
	north := tileLat(float64(y), n)
	south := tileLat(float64(y+1), n)
	return NewRect(north, west, south, east)
}

func tileLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
}

// TilePixel projects c into pixel space of tile z/x/y with the given tile size (web mercator).
func TilePixel(c Coord, z, x, y, tileSize int) (px, py float64) {
	n := math.Exp2(float64(z))
	lat := c.Lat * math.Pi / 180
	gx := (c.Lng + 180) / 360 * n
	gy := (1 - math.Log(math.Tan(lat)+1/math.Cos(lat))/math.Pi) / 2 * n
	return (gx - float64(x)) * float64(tileSize), (gy - float64(y)) * float64(tileSize)
}
