package detector

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/spotter/internal/frame"
)

// bindingState is the cached input binding and the shape it was built for.
type bindingState struct {
	shape   TensorShape
	binding Binding
}

// needsRebuild reports whether a frame of shape next can reuse the cached
// binding.
func needsRebuild(state bindingState, next TensorShape) bool {
	return state.binding == nil || state.shape != next
}

// Session keeps a model loaded across frames and rebuilds its input binding
// only when the frame shape changes. A Session is not safe for concurrent
// use; callers serialize Run.
type Session struct {
	engine   Engine
	plan     FetchPlan
	state    bindingState
	rebuilds int
	runs     int
}

// NewSession wraps an engine. The fetch plan is the engine's output plan.
func NewSession(engine Engine) (*Session, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	return &Session{engine: engine, plan: engine.IO().Outputs}, nil
}

// Open loads the model in config into a new ONNX-backed session.
func Open(config Config) (*Session, error) {
	engine, err := NewONNXEngine(config)
	if err != nil {
		return nil, err
	}
	return NewSession(engine)
}

// IO returns the model signature.
func (s *Session) IO() ModelIO { return s.engine.IO() }

// Rebuilds reports how many bindings have been created.
func (s *Session) Rebuilds() int { return s.rebuilds }

// Runs reports how many inference calls reached the engine.
func (s *Session) Runs() int { return s.runs }

// Shape returns the shape of the live binding, if any.
func (s *Session) Shape() (TensorShape, bool) {
	return s.state.shape, s.state.binding != nil
}

func (s *Session) rebind(shape TensorShape) error {
	s.releaseBinding()

	b, err := s.engine.Bind(shape, s.plan)
	if err != nil {
		return err
	}
	s.state = bindingState{shape: shape, binding: b}
	s.rebuilds++
	slog.Debug("Rebuilt input binding", "shape", shape.String(), "rebuilds", s.rebuilds)
	return nil
}

func (s *Session) releaseBinding() {
	if s.state.binding == nil {
		return
	}
	if err := s.state.binding.Release(); err != nil {
		slog.Warn("failed to release input binding", "error", err)
	}
	s.state = bindingState{}
}

// Run performs inference on a batch of exactly one frame. Larger batches are
// rejected with ErrUnsupportedBatchSize before anything is touched.
func (s *Session) Run(batch []*frame.Frame) (RawOutputs, error) {
	if len(batch) > 1 {
		return RawOutputs{}, fmt.Errorf("%w: got %d frames, want 1", ErrUnsupportedBatchSize, len(batch))
	}
	if len(batch) == 0 {
		return RawOutputs{}, errors.New("empty batch")
	}
	f := batch[0]
	if f == nil {
		return RawOutputs{}, errors.New("input frame is nil")
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return RawOutputs{}, fmt.Errorf("frame buffer has %d bytes, want %d", len(f.Pix), f.Width*f.Height*f.Channels)
	}

	shape := ShapeOf(f)
	if needsRebuild(s.state, shape) {
		if err := s.rebind(shape); err != nil {
			return RawOutputs{}, fmt.Errorf("%w: binding input %s: %w", ErrInferenceRuntime, shape, err)
		}
	}

	in := s.state.binding.Input()
	if len(in) != len(f.Pix) {
		return RawOutputs{}, fmt.Errorf("%w: input tensor has %d bytes, frame has %d",
			ErrInferenceRuntime, len(in), len(f.Pix))
	}
	copy(in, f.Pix)

	s.runs++
	raw, err := s.state.binding.Run()
	if err != nil {
		return RawOutputs{}, fmt.Errorf("%w: %w", ErrInferenceRuntime, err)
	}
	if err := raw.Validate(); err != nil {
		return RawOutputs{}, fmt.Errorf("%w: %w", ErrInferenceRuntime, err)
	}
	return raw, nil
}

// Reset drops the cached binding so the next Run rebuilds it.
func (s *Session) Reset() {
	s.releaseBinding()
}

// Close releases the binding and the engine.
func (s *Session) Close() error {
	s.releaseBinding()
	return s.engine.Close()
}
