package spaceimage

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrMalformedGeometry = errors.New("malformed geometry")
	ErrEmptyStream       = errors.New("empty image stream")
	ErrInvalidPixel      = errors.New("invalid pixel code")
)

// Pixel is a normalized pixel code.
type Pixel uint8

const (
	Black Pixel = iota
	White
	Transparent
)

// ParsePixel maps an ASCII digit to its pixel code.
func ParsePixel(b byte) (Pixel, bool) {
	switch b {
	case '0':
		return Black, true
	case '1':
		return White, true
	case '2':
		return Transparent, true
	}
	return Black, false
}

// Options fixes the layer geometry, which the stream itself does not carry.
type Options struct {
	// Layer width in pixels. Reference images are 25 wide.
	Width int
	// Layer height in pixels. Reference images are 6 high.
	Height int
	// Reject bytes other than '0', '1' and '2'.
	// When false, unknown codes are read as Black (background).
	Strict bool
}

// DefaultOptions returns the strict 25x6 reference geometry.
func DefaultOptions() Options {
	return Options{
		Width:  25,
		Height: 6,
		Strict: true,
	}
}

// Decoder reads a layered image from a digit stream it borrows but never
// modifies.
type Decoder struct {
	Options Options
	data    []byte
	layers  int
}

// NewDecoder validates data against opt after dropping one trailing newline.
// It returns ErrMalformedGeometry for a non-positive or overflowing layer size
// or a length that is not a whole number of layers, and, in strict mode,
// ErrInvalidPixel for the first unknown pixel code.
func NewDecoder(data []byte, opt Options) (*Decoder, error) {
	if opt.Width <= 0 || opt.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d layer", ErrMalformedGeometry, opt.Width, opt.Height)
	}
	if opt.Width > math.MaxInt/opt.Height {
		return nil, fmt.Errorf("%w: %dx%d layer overflows", ErrMalformedGeometry, opt.Width, opt.Height)
	}
	data = TrimNewline(data)
	size := opt.Width * opt.Height
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of layer size %d (%dx%d)",
			ErrMalformedGeometry, len(data), size, opt.Width, opt.Height)
	}
	if opt.Strict {
		for i, b := range data {
			if _, ok := ParsePixel(b); !ok {
				return nil, fmt.Errorf("%w: %q at offset %d", ErrInvalidPixel, b, i)
			}
		}
	}
	return &Decoder{
		Options: opt,
		data:    data,
		layers:  len(data) / size,
	}, nil
}

// TrimNewline drops a single trailing "\n" or "\r\n".
func TrimNewline(data []byte) []byte {
	n := len(data)
	if n > 0 && data[n-1] == '\n' {
		n--
		if n > 0 && data[n-1] == '\r' {
			n--
		}
	}
	return data[:n]
}

// NumLayers is zero for an empty stream.
func (d *Decoder) NumLayers() int { return d.layers }

func (d *Decoder) LayerSize() int { return d.Options.Width * d.Options.Height }

// Layer returns a view of layer i. The slice is capacity-capped so appends
// cannot write into the next layer.
func (d *Decoder) Layer(i int) []byte {
	size := d.LayerSize()
	lo, hi := i*size, (i+1)*size
	return d.data[lo:hi:hi]
}

func (d *Decoder) Pixel(layer, x, y int) Pixel {
	p, _ := ParsePixel(d.Layer(layer)[y*d.Options.Width+x])
	return p
}

// ============ COUNTING ============

// CountDigit returns how many bytes of buf equal c.
func CountDigit(buf []byte, c byte) int {
	count := 0
	for _, b := range buf {
		if b == c {
			count++
		}
	}
	return count
}

// Histogram returns a NumLayers×3 matrix whose row i holds the Black, White
// and Transparent counts of layer i. It is nil for an empty stream.
func (d *Decoder) Histogram() *mat.Dense {
	n := d.layers
	if n == 0 {
		return nil
	}
	counts := make([]float64, n*3)
	workers := min(runtime.GOMAXPROCS(0), n)
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				layer := d.Layer(i)
				counts[i*3] = float64(CountDigit(layer, '0'))
				counts[i*3+1] = float64(CountDigit(layer, '1'))
				counts[i*3+2] = float64(CountDigit(layer, '2'))
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
	return mat.NewDense(n, 3, counts)
}

// SelectLayer returns the layer with the fewest Black pixels. Ties go to the
// earliest layer.
func (d *Decoder) SelectLayer() (int, error) {
	if d.layers == 0 {
		return 0, ErrEmptyStream
	}
	zeros := mat.Col(nil, 0, d.Histogram())
	return floats.MinIdx(zeros), nil
}

// Checksum multiplies the White and Transparent counts of the selected layer.
func (d *Decoder) Checksum() (int, error) {
	idx, err := d.SelectLayer()
	if err != nil {
		return 0, err
	}
	layer := d.Layer(idx)
	return CountDigit(layer, '1') * CountDigit(layer, '2'), nil
}

// ============ COMPOSITING ============

// Composite flattens the stream into one image. Layers are applied back to
// front and every non-transparent pixel overwrites, so layer 0 ends up on top.
func (d *Decoder) Composite() *Image {
	out := NewImage(d.Options.Width, d.Options.Height)
	for li := d.layers - 1; li >= 0; li-- {
		for i, b := range d.Layer(li) {
			p, _ := ParsePixel(b)
			if p == Transparent {
				continue
			}
			out.Pix[i] = p
		}
	}
	return out
}

// compositeForward resolves each pixel from the first non-transparent layer
// in stream order.
func (d *Decoder) compositeForward() *Image {
	out := NewImage(d.Options.Width, d.Options.Height)
	for i := range out.Pix {
		for li := 0; li < d.layers; li++ {
			p, _ := ParsePixel(d.Layer(li)[i])
			if p != Transparent {
				out.Pix[i] = p
				break
			}
		}
	}
	return out
}
