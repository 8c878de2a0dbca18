package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexAround(cx, cy, r float64) [][2]float64 {
	return [][2]float64{
		{cx + r, cy}, {cx + r/2, cy + r}, {cx - r/2, cy + r},
		{cx - r, cy}, {cx - r/2, cy - r}, {cx + r/2, cy - r},
	}
}

func TestRenderHexagonsFillsInterior(t *testing.T) {
	t.Parallel()

	r := NewTileRenderer(Config{TileSize: 64})
	data, err := r.RenderHexagons([]Hexagon{
		{Points: hexAround(32, 32, 20), Fill: color.RGBA{R: 255, A: 255}},
		{Points: hexAround(5, 5, 2)},
		{Points: [][2]float64{{0, 0}, {1, 1}}},
	})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	c := color.NRGBAModel.Convert(img.At(32, 32)).(color.NRGBA)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(0), c.G)
	assert.Equal(t, uint8(160), c.A)

	corner := color.NRGBAModel.Convert(img.At(63, 63)).(color.NRGBA)
	assert.Zero(t, corner.A)
}

func TestRendererReusesContext(t *testing.T) {
	t.Parallel()

	r := NewTileRenderer(Config{TileSize: 32})
	_, err := r.RenderHexagons([]Hexagon{{Points: hexAround(16, 16, 10), Fill: color.White}})
	require.NoError(t, err)

	data, err := r.RenderHexagons(nil)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	c := color.NRGBAModel.Convert(img.At(16, 16)).(color.NRGBA)
	assert.Zero(t, c.A, "previous drawing must be cleared")
}

func TestCreateEmptyTile(t *testing.T) {
	t.Parallel()

	r := NewTileRenderer(Config{})
	assert.Equal(t, 256, r.TileSize())
	data, err := r.CreateEmptyTile()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dy())
}
