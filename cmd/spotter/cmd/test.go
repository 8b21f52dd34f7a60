package cmd

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/MeKo-Tech/spotter/internal/onnx"
	"github.com/MeKo-Tech/spotter/internal/version"
	"github.com/spf13/cobra"
)

// testCmd represents the test command.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test ONNX Runtime setup and model files",
	Long: `Test the ONNX Runtime installation and verify that the detection model
can be found.

This command performs basic checks to ensure:
- The ONNX Runtime shared library can be located and initialised
- The configured detection model exists`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg := GetConfig()
		_, _ = fmt.Fprintln(out, cmd.Short)
		_, _ = fmt.Fprintln(out)

		var failed bool
		if err := onnx.EnsureEnvironment("", cfg.GPU.Enabled); err != nil {
			failed = true
			_, _ = fmt.Fprintf(out, "ONNX Runtime: FAILED (%v)\n", err)
			_, _ = fmt.Fprintf(out, "  Set %s to the shared library path.\n", onnx.LibraryPathEnv)
		} else {
			_, _ = fmt.Fprintf(out, "ONNX Runtime: ok (version %s)\n", version.RuntimeVersion())
		}

		modelPath := cfg.ToPipelineConfig().Detector.ModelPath
		if err := models.ValidateModelExists(modelPath); err != nil {
			failed = true
			_, _ = fmt.Fprintf(out, "Detection model: FAILED (%v)\n", err)
		} else {
			_, _ = fmt.Fprintf(out, "Detection model: ok (%s)\n", modelPath)
		}

		if failed {
			return errors.New("setup check failed")
		}
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "All checks passed. spotter is ready for use.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
