package projectionio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"ctbackprojector/internal/models"
)

type datHeader struct {
	Count  int32
	Side   int32
	MaxVal float64
	MinVal float64
}

// DATReader streams projections out of a binary DAT stack.
type DATReader struct {
	rc     io.Closer
	r      *bufio.Reader
	header Header
	read   int
}

// NewDATReader reads the DAT header from r. If r is an io.Closer it is
// closed by Close.
func NewDATReader(r io.Reader) (*DATReader, error) {
	br := bufio.NewReader(r)

	var h datHeader
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrMalformed, err)
	}
	if h.Count < 0 {
		return nil, fmt.Errorf("%w: invalid header count=%d", ErrMalformed, h.Count)
	}
	if err := checkSide(int(h.Side)); err != nil {
		return nil, err
	}
	if math.IsNaN(h.MinVal) || math.IsNaN(h.MaxVal) || math.IsInf(h.MinVal, 0) || math.IsInf(h.MaxVal, 0) {
		return nil, fmt.Errorf("%w: invalid value range [%g, %g]", ErrMalformed, h.MinVal, h.MaxVal)
	}

	dr := &DATReader{
		r: br,
		header: Header{
			Count:  int(h.Count),
			Side:   int(h.Side),
			MinVal: h.MinVal,
			MaxVal: h.MaxVal,
		},
	}
	if c, ok := r.(io.Closer); ok {
		dr.rc = c
	}
	return dr, nil
}

// Header returns the stack description.
func (r *DATReader) Header() Header { return r.header }

// Next reads the next angle and pixel block.
func (r *DATReader) Next() (*models.Projection, error) {
	if r.read >= r.header.Count {
		return nil, io.EOF
	}

	var angle float64
	if err := binary.Read(r.r, binary.LittleEndian, &angle); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("projection %d angle: %w", r.read, err)
	}
	if err := checkAngle(angle); err != nil {
		return nil, err
	}

	p := newBlock(angle, r.header)
	row := make([]float64, r.header.Side)
	for y := 0; y < r.header.Side; y++ {
		if err := binary.Read(r.r, binary.LittleEndian, row); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("projection %d pixels: %w", r.read, err)
		}
		for x, v := range row {
			if err := checkPixel(r.read, y*r.header.Side+x, v); err != nil {
				return nil, err
			}
		}
		p.Pixels = append(p.Pixels, row...)
	}

	r.read++
	return p, nil
}

// Close closes the underlying reader when it is closable.
func (r *DATReader) Close() error {
	if r.rc == nil {
		return nil
	}
	return r.rc.Close()
}

// WriteDAT encodes projections in the DAT layout.
func WriteDAT(w io.Writer, h Header, projections []*models.Projection) error {
	if err := checkProjections(h, projections); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	header := datHeader{
		Count:  int32(len(projections)),
		Side:   int32(h.Side),
		MaxVal: h.MaxVal,
		MinVal: h.MinVal,
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write DAT header: %w", err)
	}
	for i, p := range projections {
		if err := binary.Write(bw, binary.LittleEndian, p.Angle); err != nil {
			return fmt.Errorf("failed to write projection %d: %w", i, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, p.Pixels); err != nil {
			return fmt.Errorf("failed to write projection %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write DAT: %w", err)
	}
	return nil
}
