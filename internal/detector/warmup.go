package detector

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/spotter/internal/frame"
)

// warmupShape picks the model's static size, falling back to 300x300 RGB.
func (s *Session) warmupShape(width, height, channels int) (int, int, int) {
	if width <= 0 || height <= 0 {
		if w, h, ok := s.IO().FixedInputSize(); ok {
			width, height = w, h
		} else {
			width, height = 300, 300
		}
	}
	if channels <= 0 {
		channels = 3
	}
	return width, height, channels
}

// Warmup runs forward passes on a black frame to absorb first-run latency.
// The binding built here is reused by subsequent frames of the same size.
func (s *Session) Warmup(width, height, channels, iterations int) error {
	if iterations <= 0 {
		return nil
	}
	if s.engine == nil {
		return errors.New("session has no engine")
	}

	w, h, c := s.warmupShape(width, height, channels)
	blank, err := frame.New(w, h, c)
	if err != nil {
		return err
	}
	for i := range iterations {
		if _, err := s.Run([]*frame.Frame{blank}); err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i+1, err)
		}
	}
	return nil
}
