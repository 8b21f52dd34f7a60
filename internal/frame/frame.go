// Package frame holds the packed pixel buffer handed to the detector and the
// preprocessing that adapts frames to the network input size.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ProcessingError represents errors that can occur while building or
// resizing frames.
type ProcessingError struct {
	Operation string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("frame processing error in %s: %v", e.Operation, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Frame is a tightly packed, row-major, interleaved 8-bit image
// (height x width x channels). It implements draw.Image so it can be used as
// both source and destination of golang.org/x/image/draw scalers.
type Frame struct {
	Pix      []uint8
	Width    int
	Height   int
	Channels int
}

func validChannels(c int) bool {
	return c == 1 || c == 3 || c == 4
}

// New allocates a zeroed frame.
func New(width, height, channels int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, &ProcessingError{Operation: "new", Err: fmt.Errorf("invalid size %dx%d", width, height)}
	}
	if !validChannels(channels) {
		return nil, &ProcessingError{Operation: "new", Err: fmt.Errorf("unsupported channel count %d", channels)}
	}
	return &Frame{
		Pix:      make([]uint8, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}, nil
}

// FromRaw wraps an existing packed buffer without copying it.
func FromRaw(pix []uint8, width, height, channels int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, &ProcessingError{Operation: "wrap", Err: fmt.Errorf("invalid size %dx%d", width, height)}
	}
	if !validChannels(channels) {
		return nil, &ProcessingError{Operation: "wrap", Err: fmt.Errorf("unsupported channel count %d", channels)}
	}
	if want := width * height * channels; len(pix) != want {
		return nil, &ProcessingError{
			Operation: "wrap",
			Err:       fmt.Errorf("buffer has %d bytes, want %d for %dx%dx%d", len(pix), want, width, height, channels),
		}
	}
	return &Frame{Pix: pix, Width: width, Height: height, Channels: channels}, nil
}

// FromImage converts any image into a packed frame with the given channel
// count. Three channels yields RGB, four yields non-premultiplied RGBA and one
// yields 8-bit luminance.
func FromImage(img image.Image, channels int) (*Frame, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "convert", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	f, err := New(b.Dx(), b.Dy(), channels)
	if err != nil {
		return nil, err
	}

	nrgba := imaging.Clone(img)
	src := nrgba.Pix
	n := f.Width * f.Height
	switch channels {
	case 4:
		copy(f.Pix, src[:n*4])
	case 3:
		for i := range n {
			f.Pix[i*3] = src[i*4]
			f.Pix[i*3+1] = src[i*4+1]
			f.Pix[i*3+2] = src[i*4+2]
		}
	case 1:
		for i := range n {
			c := color.NRGBA{R: src[i*4], G: src[i*4+1], B: src[i*4+2], A: src[i*4+3]}
			f.Pix[i] = color.GrayModel.Convert(c).(color.Gray).Y
		}
	}
	return f, nil
}

// Size returns width and height.
func (f *Frame) Size() (int, int) { return f.Width, f.Height }

// SameSize reports whether f already has the given dimensions.
func (f *Frame) SameSize(width, height int) bool {
	return f.Width == width && f.Height == height
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Pix: pix, Width: f.Width, Height: f.Height, Channels: f.Channels}
}

// ColorModel implements image.Image.
func (f *Frame) ColorModel() color.Model {
	if f.Channels == 1 {
		return color.GrayModel
	}
	return color.NRGBAModel
}

// Bounds implements image.Image.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f *Frame) offset(x, y int) int {
	return (y*f.Width + x) * f.Channels
}

// At implements image.Image.
func (f *Frame) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(f.Bounds()) {
		if f.Channels == 1 {
			return color.Gray{}
		}
		return color.NRGBA{}
	}
	i := f.offset(x, y)
	switch f.Channels {
	case 1:
		return color.Gray{Y: f.Pix[i]}
	case 3:
		return color.NRGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
	default:
		return color.NRGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: f.Pix[i+3]}
	}
}

// Set implements draw.Image.
func (f *Frame) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}).In(f.Bounds()) {
		return
	}
	i := f.offset(x, y)
	switch f.Channels {
	case 1:
		f.Pix[i] = color.GrayModel.Convert(c).(color.Gray).Y
	case 3:
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = n.R, n.G, n.B
	default:
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = n.R, n.G, n.B, n.A
	}
}
