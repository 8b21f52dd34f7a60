package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// GPUConfig selects the CUDA execution provider for a session.
type GPUConfig struct {
	UseGPU              bool
	DeviceID            int
	MemLimit            uint64 // bytes, 0 = unlimited
	ArenaExtendStrategy string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch string // "EXHAUSTIVE", "HEURISTIC" or "DEFAULT"
}

// DefaultGPUConfig returns a CPU-only configuration with sane CUDA defaults
// for when the GPU is switched on.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy: "kNextPowerOfTwo",
		CUDNNConvAlgoSearch: "DEFAULT",
	}
}

var (
	validArenaStrategies = map[string]bool{"kNextPowerOfTwo": true, "kSameAsRequested": true}
	validAlgoSearch      = map[string]bool{"EXHAUSTIVE": true, "HEURISTIC": true, "DEFAULT": true}
)

// Validate checks the configuration. A disabled GPU is always valid.
func (c GPUConfig) Validate() error {
	if !c.UseGPU {
		return nil
	}
	if c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	if c.ArenaExtendStrategy != "" && !validArenaStrategies[c.ArenaExtendStrategy] {
		return fmt.Errorf("invalid arena extend strategy: %s", c.ArenaExtendStrategy)
	}
	if c.CUDNNConvAlgoSearch != "" && !validAlgoSearch[c.CUDNNConvAlgoSearch] {
		return fmt.Errorf("invalid CUDNN conv algo search: %s", c.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider option map passed to ONNX Runtime.
func (c GPUConfig) cudaSettings() map[string]string {
	s := map[string]string{
		"device_id":                 strconv.Itoa(c.DeviceID),
		"do_copy_in_default_stream": "1",
	}
	if c.MemLimit > 0 {
		s["gpu_mem_limit"] = strconv.FormatUint(c.MemLimit, 10)
	}
	if c.ArenaExtendStrategy != "" {
		s["arena_extend_strategy"] = c.ArenaExtendStrategy
	}
	if c.CUDNNConvAlgoSearch != "" {
		s["cudnn_conv_algo_search"] = c.CUDNNConvAlgoSearch
	}
	return s
}

// ApplyGPU appends the CUDA provider to opts when the GPU is enabled.
func ApplyGPU(opts *ort.SessionOptions, c GPUConfig) error {
	if !c.UseGPU {
		return nil
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cuda.Destroy(); err != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cuda.Update(c.cudaSettings()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// NewSessionOptions builds session options with the thread count and
// execution provider applied. numThreads <= 0 leaves the runtime default.
func NewSessionOptions(numThreads int, gpu GPUConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if numThreads > 0 {
		if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
			_ = opts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	if err := ApplyGPU(opts, gpu); err != nil {
		_ = opts.Destroy()
		return nil, err
	}
	return opts, nil
}
