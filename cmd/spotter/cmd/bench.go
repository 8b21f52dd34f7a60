package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MeKo-Tech/spotter/internal/common"
	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/spf13/cobra"
)

// benchReport is the machine readable form of a bench run.
type benchReport struct {
	Name        string                   `json:"name"`
	Iterations  int                      `json:"iterations"`
	Failures    int                      `json:"failures"`
	MeanMs      float64                  `json:"mean_ms"`
	P50Ms       float64                  `json:"p50_ms"`
	P95Ms       float64                  `json:"p95_ms"`
	FPS         float64                  `json:"fps"`
	AllocsPerOp uint64                   `json:"allocs_per_frame"`
	Stages      pipeline.ProfileSnapshot `json:"stages"`
}

func newBenchReport(res common.BenchmarkResult, stages pipeline.ProfileSnapshot) benchReport {
	ms := func(p float64) float64 { return float64(res.Percentile(p).Microseconds()) / 1000 }
	return benchReport{
		Name:        res.Name,
		Iterations:  res.Iterations,
		Failures:    res.Failures,
		MeanMs:      float64(res.Mean().Microseconds()) / 1000,
		P50Ms:       ms(50),
		P95Ms:       ms(95),
		FPS:         res.Throughput(),
		AllocsPerOp: res.AllocsPerOp(),
		Stages:      stages,
	}
}

var benchCmd = &cobra.Command{
	Use:   "bench [image]",
	Short: "Measure detection latency and throughput",
	Long: `Run the detection pipeline repeatedly on one frame and report latency
percentiles, frames per second and per-stage timings.

Without an image a blank frame of the network input size is used.

Examples:
  spotter bench street.jpg --iterations 200
  spotter bench --json`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		iterations, _ := cmd.Flags().GetInt("iterations")
		warmup, _ := cmd.Flags().GetInt("warmup-iterations")
		asJSON, _ := cmd.Flags().GetBool("json")
		if iterations <= 0 {
			return errors.New("iterations must be positive")
		}

		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		pCfg := cfg.ToPipelineConfig()

		f, name, err := benchFrame(args, pCfg)
		if err != nil {
			return err
		}

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
		res := runBenchmark(ctx, pl, f, name, warmup, iterations)
		if res.Error != nil && res.Failures == 0 {
			return res.Error
		}
		return writeBenchReport(cmd.OutOrStdout(), res, pl.Stats(), asJSON)
	},
}

// benchFrame loads the optional image argument or builds a blank frame.
func benchFrame(args []string, cfg pipeline.Config) (*frame.Frame, string, error) {
	if len(args) == 1 {
		f, _, err := frame.Load(args[0], cfg.Channels)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		return f, args[0], nil
	}
	w, h := cfg.InputWidth, cfg.InputHeight
	if w <= 0 || h <= 0 {
		w, h = 300, 300
	}
	f, err := frame.New(w, h, cfg.Channels)
	if err != nil {
		return nil, "", err
	}
	return f, fmt.Sprintf("blank %dx%d", w, h), nil
}

// runBenchmark times Analyze on the same frame. Failed frames are counted
// rather than aborting so that timeouts show up in the report.
func runBenchmark(ctx context.Context, pl *pipeline.Pipeline, f *frame.Frame, name string, warmup, iterations int) common.BenchmarkResult {
	timeout := pl.Config().FrameTimeout
	return common.Benchmark(name, warmup, iterations, true, func(int) error {
		fctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, err := pl.Analyze(fctx, f)
		return err
	})
}

func writeBenchReport(w io.Writer, res common.BenchmarkResult, stages pipeline.ProfileSnapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newBenchReport(res, stages))
	}
	_, err := fmt.Fprintf(w, "%s\n  preprocess %.3f ms, inference %.3f ms, decode %.3f ms per frame\n",
		res, stages.PreprocessMsPerFrm, stages.InferenceMsPerFrm, stages.DecodeMsPerFrm)
	return err
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().Int("iterations", 50, "number of timed frames")
	benchCmd.Flags().Int("warmup-iterations", 5, "untimed frames run first")
	benchCmd.Flags().Bool("json", false, "print the report as JSON")
}
