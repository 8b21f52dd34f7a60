// Package fake provides an in-memory detector.Engine for tests.
package fake

import (
	"errors"
	"sync"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/onnx/mock"
)

// Raw converts synthetic outputs into detector.RawOutputs.
func Raw(o mock.Outputs) detector.RawOutputs {
	return detector.RawOutputs{
		Boxes:      o.Boxes,
		Classes:    o.Classes,
		Scores:     o.Scores,
		Batch:      o.Batch,
		Candidates: o.N,
	}
}

// Engine records every call and returns canned outputs.
type Engine struct {
	mu sync.Mutex

	io      detector.ModelIO
	outputs detector.RawOutputs

	// RunErr, when set, is returned by every Run.
	RunErr error
	// BindErr, when set, is returned by every Bind.
	BindErr error
	// Gate, when non-nil, blocks Run until a value is received or the
	// channel is closed.
	Gate chan struct{}

	binds    int
	runs     int
	releases int
	live     int
	shapes   []detector.TensorShape
	inputs   [][]uint8
	closed   bool
}

// DefaultIO is a typical SSD signature with a dynamic input size.
func DefaultIO() detector.ModelIO {
	return detector.ModelIO{
		InputName: "input_tensor",
		InputDims: []int64{1, -1, -1, 3},
		Outputs: detector.FetchPlan{
			Boxes:   detector.DefaultBoxesOutput,
			Classes: detector.DefaultClassesOutput,
			Scores:  detector.DefaultScoresOutput,
		},
	}
}

// New returns an engine that answers every Run with out.
func New(out mock.Outputs) *Engine {
	return &Engine{io: DefaultIO(), outputs: Raw(out)}
}

// WithIO replaces the reported model signature.
func (e *Engine) WithIO(io detector.ModelIO) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.io = io
	return e
}

// SetOutputs replaces the canned outputs.
func (e *Engine) SetOutputs(out mock.Outputs) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs = Raw(out)
}

func (e *Engine) IO() detector.ModelIO {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.io
}

func (e *Engine) Bind(shape detector.TensorShape, plan detector.FetchPlan) (detector.Binding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("engine is closed")
	}
	if e.BindErr != nil {
		return nil, e.BindErr
	}
	if plan != e.io.Outputs {
		return nil, errors.New("unexpected fetch plan")
	}
	e.binds++
	e.live++
	e.shapes = append(e.shapes, shape)
	return &binding{engine: e, input: make([]uint8, shape.Elements())}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Binds reports how many bindings were created.
func (e *Engine) Binds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.binds
}

// Runs reports how many times Run reached the engine.
func (e *Engine) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// Releases reports how many bindings were released.
func (e *Engine) Releases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releases
}

// Live reports how many bindings are currently held.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// Shapes returns the shapes passed to Bind, in order.
func (e *Engine) Shapes() []detector.TensorShape {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]detector.TensorShape, len(e.shapes))
	copy(out, e.shapes)
	return out
}

// LastInput returns a copy of the input tensor seen by the latest Run.
func (e *Engine) LastInput() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inputs) == 0 {
		return nil
	}
	return e.inputs[len(e.inputs)-1]
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type binding struct {
	engine   *Engine
	input    []uint8
	released bool
}

func (b *binding) Input() []uint8 { return b.input }

func (b *binding) Run() (detector.RawOutputs, error) {
	b.engine.mu.Lock()
	gate := b.engine.Gate
	b.engine.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e := b.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if b.released {
		return detector.RawOutputs{}, errors.New("binding released")
	}
	e.runs++
	snapshot := make([]uint8, len(b.input))
	copy(snapshot, b.input)
	e.inputs = append(e.inputs, snapshot)
	if e.RunErr != nil {
		return detector.RawOutputs{}, e.RunErr
	}
	return e.outputs, nil
}

func (b *binding) Release() error {
	e := b.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if b.released {
		return errors.New("binding already released")
	}
	b.released = true
	e.releases++
	e.live--
	return nil
}
