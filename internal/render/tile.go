// Package render provides tile rendering using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
)

// Config contains renderer configuration.
type Config struct {
	TileSize  int
	LineWidth float64
	Outline   color.Color
	FillAlpha uint8 // alpha applied to fills; 0 means 160
}

// Hexagon is one cell outline in tile pixel space.
type Hexagon struct {
	Points [][2]float64
	Fill   color.Color // nil draws the outline only
}

// TileRenderer renders cell outlines into PNG tiles.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = 1
	}
	if cfg.Outline == nil {
		cfg.Outline = color.RGBA{R: 40, G: 40, B: 40, A: 200}
	}
	if cfg.FillAlpha == 0 {
		cfg.FillAlpha = 160
	}

	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() any {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// TileSize returns the tile edge length in pixels.
func (r *TileRenderer) TileSize() int { return r.config.TileSize }

// RenderHexagons draws hexes onto a transparent tile.
func (r *TileRenderer) RenderHexagons(hexes []Hexagon) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.Transparent)
	dc.Clear()
	dc.SetLineWidth(r.config.LineWidth)

	for _, h := range hexes {
		if len(h.Points) < 3 {
			continue
		}
		dc.NewSubPath()
		dc.MoveTo(h.Points[0][0], h.Points[0][1])
		for _, p := range h.Points[1:] {
			dc.LineTo(p[0], p[1])
		}
		dc.ClosePath()

		if h.Fill != nil {
			dc.SetColor(r.withAlpha(h.Fill))
			dc.FillPreserve()
		}
		dc.SetColor(r.config.Outline)
		dc.Stroke()
	}

	return r.encodeContext(dc)
}

func (r *TileRenderer) withAlpha(c color.Color) color.Color {
	rgba := color.NRGBAModel.Convert(c).(color.NRGBA)
	rgba.A = r.config.FillAlpha
	return rgba
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// buffer is reused
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
