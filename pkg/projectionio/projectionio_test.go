package projectionio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctbackprojector/internal/models"
)

func sampleProjections(side int, angles ...float64) []*models.Projection {
	out := make([]*models.Projection, len(angles))
	for i, a := range angles {
		p := models.NewProjection(a, side)
		for j := range p.Pixels {
			p.Pixels[j] = float64((i*7 + j*3) % 256)
		}
		p.MinVal, p.MaxVal = 0, 255
		out[i] = p
	}
	return out
}

func readAll(t *testing.T, r Reader) []*models.Projection {
	t.Helper()
	var out []*models.Projection
	for {
		p, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, p)
	}
}

func TestPGMScenario(t *testing.T) {
	const input = `P2
2 4
255
# angle: 45°
0 255
128 64
# angle: 60
1 2
3 4
`
	r, err := NewPGMReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Header{Count: 2, Side: 2, MinVal: 0, MaxVal: 255}, r.Header())

	got := readAll(t, r)
	require.Len(t, got, 2)

	assert.Equal(t, 45.0, got[0].Angle)
	assert.Equal(t, -1, got[0].Index)
	assert.Equal(t, []float64{0, 255, 128, 64}, got[0].Pixels)
	assert.Equal(t, 255.0, got[0].MaxVal)

	assert.Equal(t, 60.0, got[1].Angle)
	assert.Equal(t, []float64{1, 2, 3, 4}, got[1].Pixels)
	assert.NoError(t, r.Close())
}

func TestPGMRoundTrip(t *testing.T) {
	in := sampleProjections(5, 45, 60, 75)
	var buf bytes.Buffer
	require.NoError(t, WritePGM(&buf, Header{Side: 5, MaxVal: 255}, in))

	r, err := NewPGMReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Header().Count)

	out := readAll(t, r)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Angle, out[i].Angle)
		assert.Equal(t, in[i].Pixels, out[i].Pixels)
	}
}

func TestPGMEarlyEnd(t *testing.T) {
	const input = "P2 2 6 255\n# angle: 45\n1 2\n3 4\n"
	r, err := NewPGMReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Header().Count)
	assert.Len(t, readAll(t, r), 1)
}

func TestPGMErrors(t *testing.T) {
	for name, input := range map[string]string{
		"binary type":    "P5 2 2 255\n",
		"bad width":      "P2 x 2 255\n",
		"ragged height":  "P2 2 3 255\n",
		"missing maxval": "P2 2 2\n",
		"zero maxval":    "P2 2 2 0\n",
		"huge width":     "P2 100000 100000 255\n",
		"missing header": "",
	} {
		_, err := NewPGMReader(strings.NewReader(input))
		assert.True(t, errors.Is(err, ErrMalformed), "%s: %v", name, err)
	}

	for name, input := range map[string]string{
		"no angle":        "P2 2 2 255\n1 2\n3 4\n",
		"bad angle":       "P2 2 2 255\n# angle: abc\n1 2\n3 4\n",
		"angle too large": "P2 2 2 255\n# angle: 400\n1 2\n3 4\n",
		"angle in block":  "P2 2 2 255\n# angle: 10\n1 2\n# angle: 20\n3 4\n",
		"bad pixel":       "P2 2 2 255\n# angle: 10\n1 x\n3 4\n",
		"nan pixel":       "P2 2 2 255\n# angle: 10\n1 NaN\n3 4\n",
		"inf pixel":       "P2 2 2 255\n# angle: 10\n1 2\n+Inf 4\n",
	} {
		r, err := NewPGMReader(strings.NewReader(input))
		require.NoError(t, err, name)
		_, err = r.Next()
		assert.True(t, errors.Is(err, ErrMalformed), "%s: %v", name, err)
	}

	r, err := NewPGMReader(strings.NewReader("P2 2 2 255\n# angle: 10\n1 2\n3"))
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// a large announced side with almost no data fails on the data
	r, err = NewPGMReader(strings.NewReader("P2 16384 16384 255\n# angle: 10\n1 2\n"))
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDATRoundTrip(t *testing.T) {
	in := sampleProjections(4, -45, 0, 45, 90)
	h := Header{Side: 4, MinVal: -1, MaxVal: 300}

	var buf bytes.Buffer
	require.NoError(t, WriteDAT(&buf, h, in))
	assert.Equal(t, 24+4*(8+16*8), buf.Len())

	r, err := NewDATReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, Header{Count: 4, Side: 4, MinVal: -1, MaxVal: 300}, r.Header())

	out := readAll(t, r)
	require.Len(t, out, 4)
	for i := range in {
		assert.Equal(t, in[i].Angle, out[i].Angle)
		assert.Equal(t, in[i].Pixels, out[i].Pixels)
		assert.Equal(t, -1.0, out[i].MinVal)
		assert.Equal(t, 300.0, out[i].MaxVal)
	}
}

func TestDATTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDAT(&buf, Header{Side: 3, MaxVal: 255}, sampleProjections(3, 10, 20)))
	data := buf.Bytes()

	// drop the second projection entirely: early end of stream
	r, err := NewDATReader(bytes.NewReader(data[:24+8+9*8]))
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 1)

	// cut the second projection in the middle of its pixels
	r, err = NewDATReader(bytes.NewReader(data[:len(data)-5]))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = NewDATReader(bytes.NewReader(data[:10]))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDATRejectsBadHeader(t *testing.T) {
	for name, h := range map[string]datHeader{
		"zero side":     {Count: 1, Side: 0},
		"huge side":     {Count: 1, Side: 1 << 30},
		"negative side": {Count: 1, Side: -4},
		"nan range":     {Count: 1, Side: 2, MaxVal: math.NaN()},
		"inf range":     {Count: 1, Side: 2, MinVal: math.Inf(-1), MaxVal: 1},
	} {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, h))
		_, err := NewDATReader(&buf)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDATLargeSideWithoutData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, datHeader{Count: 1, Side: 1 << 14, MaxVal: 1}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float64{10, 1, 2, 3}))

	r, err := NewDATReader(&buf)
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDATRejectsNonFinitePixels(t *testing.T) {
	in := sampleProjections(3, 10, 20)
	in[1].Pixels[5] = math.NaN()
	var buf bytes.Buffer
	require.NoError(t, WriteDAT(&buf, Header{Side: 3, MaxVal: 255}, in))

	r, err := NewDATReader(&buf)
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWritersRejectMismatchedSides(t *testing.T) {
	in := sampleProjections(3, 10)
	assert.ErrorIs(t, WriteDAT(io.Discard, Header{Side: 4, MaxVal: 1}, in), models.ErrInvalidProjection)
	assert.ErrorIs(t, WritePGM(io.Discard, Header{Side: 4, MaxVal: 255}, in), models.ErrInvalidProjection)
}

func TestOpenAndCreate(t *testing.T) {
	dir := t.TempDir()
	in := sampleProjections(3, 45, 60)

	for _, name := range []string{"stack.pgm", "stack.DAT"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Create(path, Header{Side: 3, MaxVal: 255}, in))

		r, err := Open(path)
		require.NoError(t, err, name)
		out := readAll(t, r)
		require.NoError(t, r.Close())
		require.Len(t, out, 2, name)
		assert.Equal(t, in[1].Pixels, out[1].Pixels, name)
	}

	_, err := Open(filepath.Join(dir, "stack.png"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, Create(filepath.Join(dir, "stack.txt"), Header{}, nil), ErrUnsupportedFormat)

	_, err = Open(filepath.Join(dir, "missing.pgm"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestQuantize(t *testing.T) {
	a := models.NewProjection(0, 2)
	copy(a.Pixels, []float64{0, 5, 10, 20})
	b := models.NewProjection(15, 2)
	copy(b.Pixels, []float64{-10, 0, 0, 0})

	h := HeaderFor([]*models.Projection{a, b})
	assert.Equal(t, Header{Count: 2, Side: 2, MinVal: -10, MaxVal: 20}, h)

	q := Quantize(h, []*models.Projection{a, b}, 30)
	assert.Equal(t, 0.0, q.MinVal)
	assert.Equal(t, 30.0, q.MaxVal)
	assert.Equal(t, []float64{10, 15, 20, 30}, a.Pixels)
	assert.Equal(t, []float64{0, 10, 10, 10}, b.Pixels)
}
