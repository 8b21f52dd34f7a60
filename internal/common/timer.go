// Package common provides timing and benchmarking helpers shared by the
// pipeline and the CLI.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Lap is one named segment measured by a Stopwatch.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Stopwatch measures consecutive stages of a single unit of work.
// It is not safe for concurrent use.
type Stopwatch struct {
	now   func() time.Time
	start time.Time
	last  time.Time
	laps  []Lap
}

// StartStopwatch starts a stopwatch at the current time.
func StartStopwatch() *Stopwatch {
	return newStopwatch(time.Now)
}

func newStopwatch(now func() time.Time) *Stopwatch {
	t := now()
	return &Stopwatch{now: now, start: t, last: t, laps: make([]Lap, 0, 4)}
}

// Lap closes the current segment under name and returns its duration.
func (s *Stopwatch) Lap(name string) time.Duration {
	t := s.now()
	d := t.Sub(s.last)
	s.last = t
	s.laps = append(s.laps, Lap{Name: name, Duration: d})
	return d
}

// Elapsed is the time since the stopwatch started.
func (s *Stopwatch) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// Get returns the duration of the named lap, or zero.
func (s *Stopwatch) Get(name string) time.Duration {
	for _, l := range s.laps {
		if l.Name == name {
			return l.Duration
		}
	}
	return 0
}

// Laps returns a copy of the recorded laps in order.
func (s *Stopwatch) Laps() []Lap {
	out := make([]Lap, len(s.laps))
	copy(out, s.laps)
	return out
}

func (s *Stopwatch) String() string {
	parts := make([]string, 0, len(s.laps))
	for _, l := range s.laps {
		parts = append(parts, fmt.Sprintf("%s=%v", l.Name, l.Duration))
	}
	return strings.Join(parts, " ")
}
