package frame

import (
	"errors"
	"fmt"

	"golang.org/x/image/draw"
)

// Scratch is a reusable destination buffer for resized frames. It is owned by
// a single pipeline and must not be shared between goroutines. The frame
// returned by EnsureSize aliases the scratch buffer and is only valid until
// the next call that uses the same Scratch.
type Scratch struct {
	buf    *Frame
	allocs int
}

// Allocations reports how many times the backing buffer was (re)allocated.
func (s *Scratch) Allocations() int { return s.allocs }

// Release drops the backing buffer.
func (s *Scratch) Release() { s.buf = nil }

func (s *Scratch) frame(width, height, channels int) (*Frame, error) {
	if s.buf != nil && s.buf.Width == width && s.buf.Height == height && s.buf.Channels == channels {
		return s.buf, nil
	}
	f, err := New(width, height, channels)
	if err != nil {
		return nil, err
	}
	s.buf = f
	s.allocs++
	return f, nil
}

// EnsureSize returns f untouched when it already has the target size.
// Otherwise it resamples f bilinearly into scratch and returns the scratch
// frame. A target of 0x0 means "keep the frame's own size".
func EnsureSize(f *Frame, width, height int, scratch *Scratch) (*Frame, error) {
	if f == nil {
		return nil, &ProcessingError{Operation: "resize", Err: errors.New("input frame is nil")}
	}
	if width == 0 && height == 0 {
		return f, nil
	}
	if width <= 0 || height <= 0 {
		return nil, &ProcessingError{Operation: "resize", Err: fmt.Errorf("invalid target size %dx%d", width, height)}
	}
	if f.SameSize(width, height) {
		return f, nil
	}
	if scratch == nil {
		return nil, &ProcessingError{Operation: "resize", Err: errors.New("scratch buffer is nil")}
	}

	dst, err := scratch.frame(width, height, f.Channels)
	if err != nil {
		return nil, err
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), f, f.Bounds(), draw.Src, nil)
	return dst, nil
}
