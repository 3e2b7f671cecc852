package projectionio

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"ctbackprojector/internal/models"
)

const angleTag = "angle:"

// PGMReader streams projections out of a plain (P2) PGM stack.
type PGMReader struct {
	rc     io.Closer
	tok    *pgmTokenizer
	header Header
	read   int
}

// NewPGMReader parses the PGM header from r. If r is an io.Closer it is
// closed by Close.
func NewPGMReader(r io.Reader) (*PGMReader, error) {
	tok := &pgmTokenizer{r: bufio.NewReader(r)}

	magic, err := tok.next()
	if err != nil {
		return nil, fmt.Errorf("%w: missing magic number: %v", ErrMalformed, err)
	}
	if magic != "P2" {
		return nil, fmt.Errorf("%w: unsupported PGM type %q, only P2 is read", ErrMalformed, magic)
	}

	var dims [3]int
	for i, name := range []string{"width", "height", "maxval"} {
		s, err := tok.next()
		if err != nil {
			return nil, fmt.Errorf("%w: missing %s: %v", ErrMalformed, name, err)
		}
		if dims[i], err = strconv.Atoi(s); err != nil || dims[i] <= 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, name, s)
		}
	}
	width, height, maxVal := dims[0], dims[1], dims[2]
	if err := checkSide(width); err != nil {
		return nil, err
	}
	if height%width != 0 {
		return nil, fmt.Errorf("%w: height %d is not a multiple of width %d", ErrMalformed, height, width)
	}

	pr := &PGMReader{
		tok: tok,
		header: Header{
			Count:  height / width,
			Side:   width,
			MinVal: 0,
			MaxVal: float64(maxVal),
		},
	}
	if c, ok := r.(io.Closer); ok {
		pr.rc = c
	}
	return pr, nil
}

// Header returns the stack description.
func (r *PGMReader) Header() Header { return r.header }

// Next reads the next projection block.
func (r *PGMReader) Next() (*models.Projection, error) {
	if r.read >= r.header.Count {
		return nil, io.EOF
	}

	side := r.header.Side
	first, err := r.tok.next()
	if err == io.EOF {
		// fewer blocks than the header announced
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	if !r.tok.angleSet {
		return nil, fmt.Errorf("%w: projection %d has no %q comment", ErrMalformed, r.read, "# "+angleTag)
	}
	if err := checkAngle(r.tok.angle); err != nil {
		return nil, err
	}

	p := newBlock(r.tok.angle, r.header)
	r.tok.angleSet = false

	r.tok.inBlock = true
	defer func() { r.tok.inBlock = false }()

	s := first
	for i := 0; i < side*side; i++ {
		if i > 0 {
			if s, err = r.tok.next(); err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return nil, fmt.Errorf("projection %d, pixel %d: %w", r.read, i, err)
			}
		}
		v, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return nil, fmt.Errorf("%w: projection %d, pixel %d: %q is not a number", ErrMalformed, r.read, i, s)
		}
		if err := checkPixel(r.read, i, v); err != nil {
			return nil, err
		}
		p.Pixels = append(p.Pixels, v)
	}

	r.read++
	return p, nil
}

// Close closes the underlying reader when it is closable.
func (r *PGMReader) Close() error {
	if r.rc == nil {
		return nil
	}
	return r.rc.Close()
}

// pgmTokenizer splits a PGM stream into whitespace separated tokens and
// picks up angle comments on the way.
type pgmTokenizer struct {
	r       *bufio.Reader
	line    int
	pending []string

	angle    float64
	angleSet bool
	inBlock  bool
}

func (t *pgmTokenizer) next() (string, error) {
	for len(t.pending) == 0 {
		raw, err := t.r.ReadString('\n')
		if raw == "" && err != nil {
			return "", err
		}
		t.line++

		data, comment, hasComment := strings.Cut(raw, "#")
		if hasComment {
			if err := t.comment(comment); err != nil {
				return "", err
			}
		}
		t.pending = strings.Fields(data)
		if len(t.pending) == 0 && err != nil {
			return "", err
		}
	}
	tok := t.pending[0]
	t.pending = t.pending[1:]
	return tok, nil
}

func (t *pgmTokenizer) comment(c string) error {
	_, value, ok := strings.Cut(c, angleTag)
	if !ok {
		return nil
	}
	if t.inBlock {
		return fmt.Errorf("%w: line %d: angle comment inside a projection block", ErrMalformed, t.line)
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return fmt.Errorf("%w: line %d: empty angle comment", ErrMalformed, t.line)
	}
	angle, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "°"), 64)
	if err != nil {
		return fmt.Errorf("%w: line %d: invalid angle %q", ErrMalformed, t.line, fields[0])
	}
	t.angle, t.angleSet = angle, true
	return nil
}

// WritePGM encodes projections as a P2 stack with maxval round(h.MaxVal).
// Pixel values are rounded and clamped to [0, maxval]; use Quantize first
// for data on another scale.
func WritePGM(w io.Writer, h Header, projections []*models.Projection) error {
	if err := checkProjections(h, projections); err != nil {
		return err
	}
	maxVal := int(math.Round(h.MaxVal))
	if maxVal <= 0 {
		return fmt.Errorf("%w: PGM maxval must be positive, got %g", ErrMalformed, h.MaxVal)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "P2\n%d %d\n%d\n", h.Side, h.Side*len(projections), maxVal)
	for _, p := range projections {
		fmt.Fprintf(bw, "# %s %g°\n", angleTag, p.Angle)
		for row := 0; row < p.Side; row++ {
			for col := 0; col < p.Side; col++ {
				if col > 0 {
					bw.WriteByte(' ')
				}
				level := int(math.Round(p.At(row, col)))
				bw.WriteString(strconv.Itoa(max(0, min(level, maxVal))))
			}
			bw.WriteByte('\n')
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write PGM: %w", err)
	}
	return nil
}
