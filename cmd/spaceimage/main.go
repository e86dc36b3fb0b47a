package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"log"
	"os"
	"strings"

	"github.com/setanarut/spaceimage"
	"github.com/setanarut/spaceimage/utils"
	"go.uber.org/zap"
)

func main() {
	in := flag.String("in", "./input", "digit stream file, optionally zstd-compressed")
	width := flag.Int("width", 25, "layer width")
	height := flag.Int("height", 6, "layer height")
	permissive := flag.Bool("permissive", false, "read unknown pixel codes as black instead of failing")
	pngOut := flag.String("png", "", "write the composite image to this PNG file")
	scale := flag.Int("scale", 10, "PNG upscaling factor")
	layersDir := flag.String("layers", "", "write every layer as a PNG into this directory")
	encode := flag.String("encode", "", "comma-separated images, topmost first, to encode into a digit stream")
	out := flag.String("out", "", "encoded stream destination (default stdout, .zst compresses)")
	paletteMethod := flag.String("palette-method", "dominantcolor", "palette extraction for -encode: dominantcolor or kmeans")
	swatch := flag.String("swatch", "", "write the extracted -encode palette to this PNG file")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	var err error
	var l *zap.Logger
	if *verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	zap.ReplaceGlobals(l)
	defer l.Sync() //nolint:errcheck

	if *encode != "" {
		method, err := utils.ParsePaletteMethod(*paletteMethod)
		if err != nil {
			l.Fatal("encode", zap.Error(err))
		}
		if err := runEncode(l, strings.Split(*encode, ","), method, *out, *swatch); err != nil {
			l.Fatal("encode", zap.Error(err))
		}
		return
	}

	opt := spaceimage.DefaultOptions()
	opt.Width, opt.Height = *width, *height
	opt.Strict = !*permissive
	if err := runDecode(l, *in, opt, *pngOut, *scale, *layersDir); err != nil {
		l.Fatal("decode", zap.String("path", *in), zap.Error(err))
	}
}

func runDecode(l *zap.Logger, in string, opt spaceimage.Options, pngOut string, scale int, layersDir string) error {
	data, err := utils.ReadStream(in)
	if err != nil {
		return err
	}
	dec, err := spaceimage.NewDecoder(data, opt)
	if err != nil {
		return err
	}
	l.Debug("loaded stream",
		zap.Int("bytes", len(data)),
		zap.Int("layers", dec.NumLayers()),
		zap.Int("width", opt.Width),
		zap.Int("height", opt.Height))

	sum, err := dec.Checksum()
	if err != nil {
		return err
	}
	fmt.Printf("Part 1: %d\n", sum)

	img := dec.Composite()
	fmt.Printf("Part 2:\n\n%s\n", img)

	if pngOut != "" {
		if err := utils.SaveScaledImage(img.Paletted(spaceimage.DefaultPalette()), scale, pngOut); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
		l.Info("wrote composite", zap.String("path", pngOut))
	}
	if layersDir != "" {
		if err := os.MkdirAll(layersDir, 0o755); err != nil {
			return err
		}
		if err := utils.SaveLayerImages(dec.LayerImages(spaceimage.DefaultPalette()), layersDir); err != nil {
			return fmt.Errorf("write layers: %w", err)
		}
		l.Info("wrote layers", zap.Int("count", dec.NumLayers()), zap.String("dir", layersDir))
	}
	return nil
}

// runEncode turns same-sized images into a digit stream. The two-color
// palette is taken from all layers together.
func runEncode(l *zap.Logger, paths []string, method utils.PaletteMethod, out, swatch string) error {
	imgs := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := utils.ReadImage(p)
		if err != nil {
			return fmt.Errorf("read image %s: %w", p, err)
		}
		if len(imgs) > 0 && img.Bounds().Size() != imgs[0].Bounds().Size() {
			return fmt.Errorf("%w: %s is %v, want %v", spaceimage.ErrMalformedGeometry,
				p, img.Bounds().Size(), imgs[0].Bounds().Size())
		}
		imgs = append(imgs, img)
	}

	palette := utils.ExtractStackPalette(imgs, 2, method)
	if len(palette) < 2 {
		return errors.New("could not extract a two-color palette")
	}
	utils.SortPaletteByBrightness(palette)
	l.Debug("extracted palette",
		zap.Stringer("method", method),
		zap.String("black", palette[0].Hex()),
		zap.String("white", palette[1].Hex()))
	if swatch != "" {
		if err := utils.SavePalette(palette, 64, swatch); err != nil {
			return fmt.Errorf("write swatch: %w", err)
		}
	}

	data := utils.EncodeImages(imgs, palette)
	size := imgs[0].Bounds().Size()
	dec, err := spaceimage.NewDecoder(data, spaceimage.Options{Width: size.X, Height: size.Y, Strict: true})
	if err != nil {
		return err
	}
	l.Info("encoded stream", zap.Int("layers", dec.NumLayers()), zap.Int("width", size.X), zap.Int("height", size.Y))

	if out == "" {
		_, err = fmt.Fprintf(os.Stdout, "%s\n", data)
		return err
	}
	return utils.WriteStream(out, append(data, '\n'))
}
