// Package mock builds synthetic SSD detector outputs for tests.
package mock

import (
	"math/rand"
	"sort"
)

// Candidate is one synthetic detection slot. Box is normalized
// [ymin, xmin, ymax, xmax].
type Candidate struct {
	Box   [4]float32
	Class int
	Score float32
}

// Outputs mirrors the three flat output tensors of an SSD network:
// boxes [Batch,N,4], classes [Batch,N] and scores [Batch,N].
type Outputs struct {
	Boxes   []float32
	Classes []float32
	Scores  []float32
	Batch   int
	N       int
}

// NewOutputs lays candidates out as a single-batch output in the given order.
func NewOutputs(cands []Candidate) Outputs {
	n := len(cands)
	out := Outputs{
		Boxes:   make([]float32, n*4),
		Classes: make([]float32, n),
		Scores:  make([]float32, n),
		Batch:   1,
		N:       n,
	}
	for i, c := range cands {
		copy(out.Boxes[i*4:i*4+4], c.Box[:])
		out.Classes[i] = float32(c.Class)
		out.Scores[i] = c.Score
	}
	return out
}

// NewSortedOutputs sorts candidates by descending score first, which is the
// order SSD post-processing emits.
func NewSortedOutputs(cands []Candidate) Outputs {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return NewOutputs(sorted)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RandomCandidates generates n candidates with classes in [1, numClasses],
// scores in [0,1] and well-formed boxes.
func RandomCandidates(rng *rand.Rand, n, numClasses int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		y0, x0 := rng.Float32(), rng.Float32()
		y1 := clamp01(y0 + rng.Float32()*(1-y0))
		x1 := clamp01(x0 + rng.Float32()*(1-x0))
		out[i] = Candidate{
			Box:   [4]float32{y0, x0, y1, x1},
			Class: 1 + rng.Intn(numClasses),
			Score: rng.Float32(),
		}
	}
	return out
}

// Uniform returns n identical candidates, handy for shape-only tests.
func Uniform(n int, class int, score float32) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{Box: [4]float32{0.25, 0.25, 0.75, 0.75}, Class: class, Score: clamp01(score)}
	}
	return out
}
