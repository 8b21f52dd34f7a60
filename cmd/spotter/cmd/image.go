package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/spf13/cobra"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image <files...>",
	Short: "Process images for object detection",
	Long: `Detect objects in one or more image files and print the ranked detections.

Supported formats: JPEG, PNG, BMP, GIF, WebP

Examples:
  spotter image street.jpg
  spotter image frames/*.png --format json
  spotter image cam.jpg --confidence 0.7 --top-hits 5 --output results.csv --format csv`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}
		for _, pth := range args {
			if !frame.IsSupportedImage(pth) {
				return fmt.Errorf("unsupported image format: %s", pth)
			}
			if _, err := os.Stat(pth); err != nil {
				return fmt.Errorf("cannot read %s: %w", pth, err)
			}
		}

		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		pCfg := cfg.ToPipelineConfig()
		pl, err := pipeline.NewBuilderFromConfig(pCfg).Build()
		if err != nil {
			return fmt.Errorf("failed to build detection pipeline: %w", err)
		}
		defer func() {
			if err := pl.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error closing pipeline: %v\n", err)
			}
		}()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		results := make([]*pipeline.FrameResult, 0, len(args))
		for _, pth := range args {
			res, err := detectFile(ctx, pl, pth, pCfg)
			if err != nil {
				return err
			}
			results = append(results, res)
		}

		out, err := renderResults(results, cfg.Output.Format, cfg.Output.ConfidencePrecision)
		if err != nil {
			return err
		}

		if cfg.Output.File != "" {
			if err := os.WriteFile(cfg.Output.File, []byte(out), 0o600); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", cfg.Output.File)
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

// detectFile loads one image and runs it under the frame timeout.
func detectFile(ctx context.Context, pl *pipeline.Pipeline, path string, cfg pipeline.Config) (*pipeline.FrameResult, error) {
	f, _, err := frame.Load(path, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	if cfg.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.FrameTimeout)
		defer cancel()
	}

	res, err := pl.Analyze(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("detection failed for %s: %w", path, err)
	}
	res.Source = path
	return res, nil
}

// renderResults formats all results as one document. JSON becomes an array,
// CSV shares a single header and text groups detections under each file.
func renderResults(results []*pipeline.FrameResult, format string, precision int) (string, error) {
	switch strings.ToLower(format) {
	case pipeline.FormatJSON:
		return pipeline.ToJSONMany(results)
	case pipeline.FormatCSV:
		var b strings.Builder
		for i, res := range results {
			s, err := pipeline.ToCSV(res, precision)
			if err != nil {
				return "", fmt.Errorf("format csv failed: %w", err)
			}
			if i > 0 {
				_, s, _ = strings.Cut(s, "\n")
			}
			b.WriteString(s)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	case "", pipeline.FormatText:
		parts := make([]string, 0, len(results))
		for _, res := range results {
			s, err := pipeline.ToText(res, precision)
			if err != nil {
				return "", fmt.Errorf("format text failed: %w", err)
			}
			if s == "" {
				s = "no detections"
			}
			parts = append(parts, fmt.Sprintf("%s:\n%s", res.Source, s))
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", fmt.Errorf("invalid output format: %s (must be one of: text, json, csv)", format)
	}
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().Int("precision", 2, "decimal places for confidence values")
	cmd.Flags().Float64("confidence", 0.5, "minimum detection confidence (0..1)")
	cmd.Flags().Int("top-hits", 0, "consider only the first N network candidates (0=all)")
	cmd.Flags().String("model", "", "override detection model path (defaults to organized models path)")
	cmd.Flags().String("labels", "", "label file, one class name per line (default: built-in COCO)")
	cmd.Flags().Int("input-width", 0, "network input width (0=model or frame size)")
	cmd.Flags().Int("input-height", 0, "network input height (0=model or frame size)")
	cmd.Flags().Int("threads", 0, "intra-op threads for ONNX Runtime (0=runtime default)")
	cmd.Flags().Int("frame-timeout-ms", 0, "per-image inference deadline in milliseconds (0=none)")
	cmd.Flags().Int("warmup", 0, "warmup passes before the first image")

	cmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	cmd.Flags().Int("gpu-device", 0, "CUDA device ID to use (default: 0)")
	cmd.Flags().String("gpu-mem-limit", "auto", "GPU memory limit (e.g., '2GB', '512MB', 'auto' for no limit)")
}

// bindImageFlags binds all flags to viper configuration keys.
func bindImageFlags(cmd *cobra.Command) {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.confidence_precision", "precision"},
		{"detector.min_confidence", "confidence"},
		{"detector.top_hits", "top-hits"},
		{"detector.model_path", "model"},
		{"detector.labels_path", "labels"},
		{"detector.input_width", "input-width"},
		{"detector.input_height", "input-height"},
		{"detector.num_threads", "threads"},
		{"detector.frame_timeout_ms", "frame-timeout-ms"},
		{"detector.warmup_iterations", "warmup"},
		{"gpu.enabled", "gpu"},
		{"gpu.device", "gpu-device"},
		{"gpu.memory_limit", "gpu-mem-limit"},
	}

	for _, binding := range flagBindings {
		mustBind(binding.key, cmd.Flags().Lookup(binding.flag))
	}
}

func init() {
	rootCmd.AddCommand(imageCmd)

	addImageFlags(imageCmd)
	bindImageFlags(imageCmd)
}

// GetImageCommand returns the image command for testing purposes.
func GetImageCommand() *cobra.Command {
	return imageCmd
}
