package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/MeKo-Tech/spotter/internal/onnx"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEngine runs an SSD model through ONNX Runtime.
type ONNXEngine struct {
	config  Config
	session *ort.DynamicAdvancedSession
	io      ModelIO
	mu      sync.RWMutex
}

// NewONNXEngine loads the model described by config. Every failure is
// reported as ErrModelLoad.
func NewONNXEngine(config Config) (*ONNXEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if err := models.ValidateModelExists(config.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	slog.Debug("Initializing ONNX engine",
		"model_path", config.ModelPath,
		"gpu_enabled", config.GPU.UseGPU,
		"num_threads", config.NumThreads)

	if err := onnx.EnsureEnvironment(config.LibraryPath, config.GPU.UseGPU); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	io, err := inspectModel(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	opts, err := onnx.NewSessionOptions(config.NumThreads, config.GPU)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath,
		[]string{io.InputName}, io.Outputs.Names(), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", ErrModelLoad, err)
	}

	slog.Debug("ONNX engine initialized", "input", io.InputName, "input_dims", io.InputDims)
	return &ONNXEngine{config: config, session: session, io: io}, nil
}

// inspectModel reads the model signature and checks it exposes the
// configured uint8 NHWC input and the three outputs.
func inspectModel(config Config) (ModelIO, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return ModelIO{}, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	in, err := selectInput(inputs, config.InputName)
	if err != nil {
		return ModelIO{}, err
	}
	if len(in.Dimensions) != 4 {
		return ModelIO{}, fmt.Errorf("expected 4D NHWC input, got %dD", len(in.Dimensions))
	}
	if in.DataType != ort.TensorElementDataTypeUint8 {
		return ModelIO{}, fmt.Errorf("expected uint8 input, got %s", in.DataType)
	}

	have := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		have[o.Name] = true
	}
	for _, name := range config.Outputs.Names() {
		if !have[name] {
			return ModelIO{}, fmt.Errorf("model has no output named %q", name)
		}
	}

	dims := make([]int64, len(in.Dimensions))
	copy(dims, in.Dimensions)
	return ModelIO{InputName: in.Name, InputDims: dims, Outputs: config.Outputs}, nil
}

func selectInput(inputs []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if name == "" {
		if len(inputs) != 1 {
			return ort.InputOutputInfo{}, fmt.Errorf("expected 1 input, got %d (set input_name)", len(inputs))
		}
		return inputs[0], nil
	}
	for _, in := range inputs {
		if in.Name == name {
			return in, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no input named %q", name)
}

// IO implements Engine.
func (e *ONNXEngine) IO() ModelIO {
	return e.io
}

// Bind implements Engine. The fetch plan must match the one the session was
// created with.
func (e *ONNXEngine) Bind(shape TensorShape, plan FetchPlan) (Binding, error) {
	if plan != e.io.Outputs {
		return nil, fmt.Errorf("fetch plan %v does not match session outputs %v", plan.Names(), e.io.Outputs.Names())
	}
	if err := onnx.ValidateNHWC(shape.Dims()); err != nil {
		return nil, fmt.Errorf("invalid input shape: %w", err)
	}

	e.mu.RLock()
	session := e.session
	e.mu.RUnlock()
	if session == nil {
		return nil, errors.New("engine is closed")
	}

	input, err := ort.NewEmptyTensor[uint8](ort.NewShape(shape.Dims()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	slog.Debug("Bound input tensor", "shape", shape.String())
	return &onnxBinding{engine: e, input: input}, nil
}

// Close releases the session.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			slog.Warn("failed to destroy detector session", "error", err)
		}
		e.session = nil
	}
	// The runtime environment is process-wide and outlives engines.
	return nil
}

type onnxBinding struct {
	engine *ONNXEngine
	input  *ort.Tensor[uint8]
}

func (b *onnxBinding) Input() []uint8 {
	return b.input.GetData()
}

func (b *onnxBinding) Run() (RawOutputs, error) {
	b.engine.mu.RLock()
	session := b.engine.session
	b.engine.mu.RUnlock()
	if session == nil {
		return RawOutputs{}, errors.New("engine is closed")
	}

	outputs := []ort.Value{nil, nil, nil}
	if err := session.Run([]ort.Value{b.input}, outputs); err != nil {
		return RawOutputs{}, err
	}
	defer func() {
		for _, o := range outputs {
			if o == nil {
				continue
			}
			if err := o.Destroy(); err != nil {
				slog.Warn("failed to destroy output tensor", "error", err)
			}
		}
	}()

	batch, n, err := onnx.DetectionDims(outputs[0].GetShape(), outputs[1].GetShape(), outputs[2].GetShape())
	if err != nil {
		return RawOutputs{}, err
	}
	boxes, err := floatData(outputs[0])
	if err != nil {
		return RawOutputs{}, fmt.Errorf("boxes: %w", err)
	}
	classes, err := floatData(outputs[1])
	if err != nil {
		return RawOutputs{}, fmt.Errorf("classes: %w", err)
	}
	scores, err := floatData(outputs[2])
	if err != nil {
		return RawOutputs{}, fmt.Errorf("scores: %w", err)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		lo, hi, mean := onnx.Stats(scores)
		slog.Debug("Raw detector output", "batch", batch, "candidates", n,
			"score_min", lo, "score_max", hi, "score_mean", mean)
	}

	return RawOutputs{Boxes: boxes, Classes: classes, Scores: scores, Batch: batch, Candidates: n}, nil
}

func (b *onnxBinding) Release() error {
	return b.input.Destroy()
}

// floatData copies an output tensor as float32. Class ids are exported as
// float32 by TensorFlow but as int64 by some converters.
func floatData(v ort.Value) ([]float32, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		src := t.GetData()
		out := make([]float32, len(src))
		copy(out, src)
		return out, nil
	case *ort.Tensor[int64]:
		src := t.GetData()
		out := make([]float32, len(src))
		for i, x := range src {
			out[i] = float32(x)
		}
		return out, nil
	case *ort.Tensor[int32]:
		src := t.GetData()
		out := make([]float32, len(src))
		for i, x := range src {
			out[i] = float32(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported output tensor type %T", v)
	}
}
