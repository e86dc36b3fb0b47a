package spaceimage

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opts(w, h int) Options {
	o := DefaultOptions()
	o.Width, o.Height = w, h
	return o
}

func TestCountDigit(t *testing.T) {
	assert.Equal(t, 0, CountDigit(nil, '0'))
	assert.Equal(t, 0, CountDigit([]byte{}, '1'))
	assert.Equal(t, 7, CountDigit(bytes.Repeat([]byte{'2'}, 7), '2'))
	assert.Equal(t, 2, CountDigit([]byte("012012"), '1'))
	assert.Equal(t, 2, CountDigit([]byte("221100"), '1'))
}

func TestNewDecoder(t *testing.T) {
	t.Run("trailing_newline", func(t *testing.T) {
		dec, err := NewDecoder([]byte("02221122\n"), opts(2, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, dec.NumLayers())
		assert.Equal(t, []byte("1122"), dec.Layer(1))
	})
	t.Run("crlf", func(t *testing.T) {
		dec, err := NewDecoder([]byte("0222\r\n"), opts(2, 2))
		require.NoError(t, err)
		assert.Equal(t, 1, dec.NumLayers())
	})
	t.Run("not_divisible", func(t *testing.T) {
		_, err := NewDecoder([]byte("02221"), opts(2, 2))
		assert.ErrorIs(t, err, ErrMalformedGeometry)
	})
	t.Run("zero_geometry", func(t *testing.T) {
		_, err := NewDecoder([]byte("0222"), opts(0, 2))
		assert.ErrorIs(t, err, ErrMalformedGeometry)
		_, err = NewDecoder([]byte("0222"), opts(2, -1))
		assert.ErrorIs(t, err, ErrMalformedGeometry)
	})
	t.Run("overflow", func(t *testing.T) {
		_, err := NewDecoder([]byte("0222"), opts(math.MaxInt, 2))
		assert.ErrorIs(t, err, ErrMalformedGeometry)
		_, err = NewDecoder([]byte("0222"), opts(math.MaxInt/2+1, 2))
		assert.ErrorIs(t, err, ErrMalformedGeometry)
	})
	t.Run("strict_rejects_unknown", func(t *testing.T) {
		_, err := NewDecoder([]byte("0232"), opts(2, 2))
		require.ErrorIs(t, err, ErrInvalidPixel)
		assert.Contains(t, err.Error(), "offset 2")
	})
	t.Run("permissive_reads_unknown_as_black", func(t *testing.T) {
		o := opts(2, 2)
		o.Strict = false
		dec, err := NewDecoder([]byte("9122"), o)
		require.NoError(t, err)
		assert.Equal(t, Black, dec.Pixel(0, 0, 0))
		assert.Equal(t, " #\n  ", dec.Composite().String())
	})
	t.Run("layer_view_is_capped", func(t *testing.T) {
		data := []byte("02221122")
		dec, err := NewDecoder(data, opts(2, 2))
		require.NoError(t, err)
		_ = append(dec.Layer(0), '9')
		assert.Equal(t, "02221122", string(data))
	})
}

func TestChecksum(t *testing.T) {
	t.Run("scenario_a", func(t *testing.T) {
		dec, err := NewDecoder([]byte("02221122"), opts(2, 2))
		require.NoError(t, err)
		idx, err := dec.SelectLayer()
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
		sum, err := dec.Checksum()
		require.NoError(t, err)
		assert.Equal(t, 4, sum)
	})
	t.Run("tie_picks_first", func(t *testing.T) {
		dec, err := NewDecoder([]byte("011201220112"), opts(2, 2))
		require.NoError(t, err)
		idx, err := dec.SelectLayer()
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
		sum, err := dec.Checksum()
		require.NoError(t, err)
		assert.Equal(t, 2, sum)
	})
	t.Run("single_layer", func(t *testing.T) {
		dec, err := NewDecoder([]byte("123456"), Options{Width: 3, Height: 2})
		require.NoError(t, err)
		idx, err := dec.SelectLayer()
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
	})
	t.Run("empty_stream", func(t *testing.T) {
		dec, err := NewDecoder([]byte("\n"), opts(2, 2))
		require.NoError(t, err)
		assert.Equal(t, 0, dec.NumLayers())
		_, err = dec.Checksum()
		assert.ErrorIs(t, err, ErrEmptyStream)
		assert.Nil(t, dec.Histogram())
	})
}

func TestHistogram(t *testing.T) {
	dec, err := NewDecoder([]byte("022211220000"), opts(2, 2))
	require.NoError(t, err)
	h := dec.Histogram()
	r, c := h.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 3, c)
	assert.Equal(t, []float64{1, 0, 3}, h.RawRowView(0))
	assert.Equal(t, []float64{0, 2, 2}, h.RawRowView(1))
	assert.Equal(t, []float64{4, 0, 0}, h.RawRowView(2))
}

func TestComposite(t *testing.T) {
	t.Run("scenario_b", func(t *testing.T) {
		dec, err := NewDecoder([]byte("0222112222120000"), opts(2, 2))
		require.NoError(t, err)
		img := dec.Composite()
		assert.Equal(t, []Pixel{Black, White, White, Black}, img.Pix)
		assert.Equal(t, []string{" #", "# "}, img.Rows())
	})
	t.Run("front_layer_wins", func(t *testing.T) {
		dec, err := NewDecoder([]byte("10"), opts(1, 1))
		require.NoError(t, err)
		assert.Equal(t, White, dec.Composite().At(0, 0))
	})
	t.Run("single_layer", func(t *testing.T) {
		dec, err := NewDecoder([]byte("0110"), opts(2, 2))
		require.NoError(t, err)
		assert.Equal(t, " #\n# ", dec.Composite().String())
	})
	t.Run("all_transparent_is_background", func(t *testing.T) {
		dec, err := NewDecoder([]byte("22222222"), opts(2, 2))
		require.NoError(t, err)
		img := dec.Composite()
		assert.Equal(t, Transparent, img.At(1, 1))
		assert.Equal(t, "  \n  ", img.String())
	})
	t.Run("transparent_overlay_is_identity", func(t *testing.T) {
		base := []byte("0112")
		dec, err := NewDecoder(base, opts(2, 2))
		require.NoError(t, err)
		over, err := NewDecoder(append([]byte("2222"), base...), opts(2, 2))
		require.NoError(t, err)
		assert.Equal(t, dec.Composite(), over.Composite())
	})
	t.Run("reference_geometry", func(t *testing.T) {
		top := strings.Repeat("2", 150)
		bottom := strings.Repeat("1", 25) + strings.Repeat("0", 125)
		dec, err := NewDecoder([]byte(top+bottom+"\n"), DefaultOptions())
		require.NoError(t, err)
		rows := dec.Composite().Rows()
		require.Len(t, rows, 6)
		assert.Equal(t, strings.Repeat("#", 25), rows[0])
		for _, row := range rows[1:] {
			assert.Equal(t, strings.Repeat(" ", 25), row)
		}
	})
}

func TestCompositeForwardMatchesReverse(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	for k := 0; k < 200; k++ {
		w, h, n := 1+rng.Intn(6), 1+rng.Intn(6), rng.Intn(8)
		data := make([]byte, w*h*n)
		for i := range data {
			data[i] = "0122"[rng.Intn(4)]
		}
		dec, err := NewDecoder(data, opts(w, h))
		require.NoError(t, err)
		require.Equal(t, dec.compositeForward(), dec.Composite())
	}
}
