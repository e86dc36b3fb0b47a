package utils

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/cenkalti/dominantcolor"
	"github.com/klauspost/compress/zstd"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// ============ STREAM I/O ============

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ReadStream loads a digit stream from path. See DecodeStream.
func ReadStream(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()
	data, err := DecodeStream(f)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", path, err)
	}
	return data, nil
}

// DecodeStream reads all of r, decompressing it first if it starts with a
// zstd frame.
func DecodeStream(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(zstdMagic))
	if !bytes.Equal(head, zstdMagic) {
		return io.ReadAll(br)
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

// WriteStream stores data at path, zstd-compressed when path ends in ".zst".
func WriteStream(path string, data []byte) error {
	if filepath.Ext(path) != ".zst" {
		return os.WriteFile(path, data, 0o644)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ============ IMAGE OUTPUT ============

func ReadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	return img, err
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// SaveScaledImage enlarges img by an integer factor with nearest-neighbour
// sampling so pixels stay crisp.
func SaveScaledImage(img image.Image, scale int, filename string) error {
	if scale <= 1 {
		return SaveImage(img, filename)
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return SaveImage(dst, filename)
}

func SaveLayerImages(images []*image.NRGBA, dir string) error {
	for i := range images {
		if err := SaveImage(images[i], filepath.Join(dir, "layer_"+strconv.Itoa(i)+".png")); err != nil {
			return err
		}
	}
	return nil
}

func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	if len(palette) == 0 {
		return fmt.Errorf("empty palette")
	}
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, tileSize*len(palette), tileSize))
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		draw.Draw(img, image.Rect(i*tileSize, 0, (i+1)*tileSize, tileSize),
			image.NewUniform(color.RGBA{R: r, G: g, B: b, A: 255}), image.Point{}, draw.Src)
	}
	return SaveImage(img, filename)
}

// ============ PALETTE ============

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	default:
		return "dominantcolor"
	}
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// SortPaletteByBrightness orders colors from darkest to brightest.
// The first entry becomes Black, the last White.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortFunc(palette, func(a, b colorful.Color) int {
		la, lb := luminance(a), luminance(b)
		switch {
		case la < lb:
			return -1
		case la > lb:
			return 1
		}
		return 0
	})
}

type weightedColor struct {
	Col    colorful.Color
	Weight float64
}

// selectDiverse seeds with the heaviest candidate and then greedily adds the
// candidate farthest (in Lab) from everything already chosen.
func selectDiverse(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	k = min(k, len(cands))
	seed := 0
	for i := range cands {
		if cands[i].Weight > cands[seed].Weight {
			seed = i
		}
	}
	chosen := []int{seed}
	for len(chosen) < k {
		best, bestDist := -1, -1.0
		for i := range cands {
			if slices.Contains(chosen, i) {
				continue
			}
			d := math.MaxFloat64
			for _, s := range chosen {
				d = min(d, cands[i].Col.DistanceLab(cands[s].Col))
			}
			if d > bestDist {
				best, bestDist = i, d
			}
		}
		chosen = append(chosen, best)
	}
	out := make([]colorful.Color, len(chosen))
	for i, idx := range chosen {
		out[i] = cands[idx].Col
	}
	return out
}

func ExtractDominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	candidates := dominantcolor.FindWeight(img, max(8, k*4))
	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		weighted = append(weighted, weightedColor{Col: col.Clamped(), Weight: c.Weight})
	}
	return selectDiverse(weighted, k)
}

func ExtractKMeansPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	b := img.Bounds()
	var dataset clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			dataset = append(dataset, clusters.Coordinates{
				float64(r) / 65535.0,
				float64(g) / 65535.0,
				float64(bl) / 65535.0,
			})
		}
	}
	if len(dataset) == 0 {
		return nil
	}
	// Over-partition and let selectDiverse pick k well separated centers.
	workK := min(max(k*4, k+2), len(dataset))
	km := kmeans.New()
	cc, err := km.Partition(dataset, workK)
	if err != nil {
		return nil
	}
	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		weighted = append(weighted, weightedColor{Col: col, Weight: float64(len(c.Observations))})
	}
	return selectDiverse(weighted, k)
}

func ExtractPalette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	switch method {
	case PaletteMethodKMeans:
		if p := ExtractKMeansPalette(img, k); len(p) >= k {
			return p
		}
		zap.L().Warn("kmeans returned a short palette, falling back",
			zap.Int("want", k),
			zap.Stringer("fallback", PaletteMethodDominantColor))
		return ExtractDominantPalette(img, k)
	default:
		return ExtractDominantPalette(img, k)
	}
}

// ParsePaletteMethod accepts the names produced by PaletteMethod.String.
func ParsePaletteMethod(name string) (PaletteMethod, error) {
	switch name {
	case "dominantcolor", "":
		return PaletteMethodDominantColor, nil
	case "kmeans":
		return PaletteMethodKMeans, nil
	}
	return 0, fmt.Errorf("unknown palette method %q", name)
}

// ExtractStackPalette draws imgs top to bottom onto one canvas and extracts
// a k-color palette from it, so every layer contributes its colors.
func ExtractStackPalette(imgs []image.Image, k int, method PaletteMethod) []colorful.Color {
	if len(imgs) == 0 {
		return nil
	}
	w, h := 0, 0
	for _, img := range imgs {
		w = max(w, img.Bounds().Dx())
		h += img.Bounds().Dy()
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(0, y, b.Dx(), y+b.Dy()), img, b.Min, draw.Src)
		y += b.Dy()
	}
	return ExtractPalette(canvas, k, method)
}

// ============ ENCODER ============

// EncodeImage turns img into one layer of pixel codes. Pixels with less than
// half alpha become '2'; the rest become '0' when they are closer to the
// darkest palette color than to the brightest, '1' otherwise.
func EncodeImage(img image.Image, palette []colorful.Color) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	if len(palette) == 0 {
		palette = []colorful.Color{{R: 0, G: 0, B: 0}, {R: 1, G: 1, B: 1}}
	}
	sorted := slices.Clone(palette)
	SortPaletteByBrightness(sorted)
	dark, light := sorted[0], sorted[len(sorted)-1]
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if _, _, _, a := c.RGBA(); a < 0x8000 {
				out = append(out, '2')
				continue
			}
			col, _ := colorful.MakeColor(c)
			if col.DistanceLab(dark) <= col.DistanceLab(light) {
				out = append(out, '0')
			} else {
				out = append(out, '1')
			}
		}
	}
	return out
}

// EncodeImages concatenates the layers of imgs in order, topmost first.
func EncodeImages(imgs []image.Image, palette []colorful.Color) []byte {
	var out []byte
	for _, img := range imgs {
		out = append(out, EncodeImage(img, palette)...)
	}
	return out
}
