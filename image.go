package spaceimage

import (
	"image"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Image is a flattened width×height grid of pixel codes in row-major order.
// A pixel still Transparent after compositing is drawn as background.
type Image struct {
	Width, Height int
	Pix           []Pixel
}

func NewImage(w, h int) *Image {
	pix := make([]Pixel, w*h)
	for i := range pix {
		pix[i] = Transparent
	}
	return &Image{Width: w, Height: h, Pix: pix}
}

func (m *Image) At(x, y int) Pixel {
	return m.Pix[y*m.Width+x]
}

// Render draws White pixels as fg and everything else as bg, one line per
// row.
func (m *Image) Render(fg, bg byte) string {
	var sb strings.Builder
	sb.Grow((m.Width + 1) * m.Height)
	for y := 0; y < m.Height; y++ {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for _, p := range m.Pix[y*m.Width : (y+1)*m.Width] {
			if p == White {
				sb.WriteByte(fg)
			} else {
				sb.WriteByte(bg)
			}
		}
	}
	return sb.String()
}

func (m *Image) String() string {
	return m.Render('#', ' ')
}

// Rows returns the rendered rows without separators.
func (m *Image) Rows() []string {
	return strings.Split(m.String(), "\n")
}

type Palette struct {
	Black colorful.Color
	White colorful.Color
}

func DefaultPalette() Palette {
	return Palette{
		Black: colorful.Color{R: 0, G: 0, B: 0},
		White: colorful.Color{R: 1, G: 1, B: 1},
	}
}

func toRGBA(c colorful.Color, a uint8) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: a}
}

// Paletted converts the composite to a two-colour image. Index 0 is the
// background.
func (m *Image) Paletted(p Palette) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, m.Width, m.Height), color.Palette{
		toRGBA(p.Black, 255),
		toRGBA(p.White, 255),
	})
	for i, px := range m.Pix {
		if px == White {
			img.Pix[i] = 1
		}
	}
	return img
}

// LayerImages renders every layer on its own, transparent pixels at zero
// alpha.
func (d *Decoder) LayerImages(p Palette) []*image.NRGBA {
	if d.layers == 0 {
		return nil
	}
	black := toRGBA(p.Black, 255)
	white := toRGBA(p.White, 255)
	w, h := d.Options.Width, d.Options.Height
	out := make([]*image.NRGBA, d.layers)
	for li := 0; li < d.layers; li++ {
		layer := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				switch d.Pixel(li, x, y) {
				case White:
					layer.SetNRGBA(x, y, white)
				case Black:
					layer.SetNRGBA(x, y, black)
				}
			}
		}
		out[li] = layer
	}
	return out
}
