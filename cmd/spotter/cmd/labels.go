package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/spotter/internal/labels"
	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// labelListing is the structured form printed by --format json|yaml.
type labelListing struct {
	Source string   `json:"source" yaml:"source"`
	Count  int      `json:"count" yaml:"count"`
	Labels []string `json:"labels" yaml:"labels"`
}

// labelsCmd prints the label table the detector would use.
var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Print the class label table",
	Long: `Print the class label table used to name detections. Class ids are 1-based:
the network's class id N maps to line N of the label file.

Without --labels the file from the models directory is used when present,
otherwise the built-in COCO table.

Examples:
  spotter labels
  spotter labels --labels my-labels.txt --format json`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("labels")
		if path == "" {
			cfg := GetConfig()
			path = cfg.Detector.LabelsPath
			if path == "" {
				path = models.GetLabelsPath(cfg.ModelsDir)
			}
		}

		table, err := labels.LoadOrDefault(path)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		return writeLabels(cmd.OutOrStdout(), table, format)
	},
}

func writeLabels(w io.Writer, table *labels.Table, format string) error {
	listing := labelListing{Source: table.Source(), Count: table.Len(), Labels: table.Names()}

	switch strings.ToLower(format) {
	case "", "text":
		for i, name := range listing.Labels {
			if _, err := fmt.Fprintf(w, "%d\t%s\n", i+1, name); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listing); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid output format: %s (must be one of: text, json, yaml)", format)
	}
}

func init() {
	rootCmd.AddCommand(labelsCmd)
	labelsCmd.Flags().String("labels", "", "label file to print instead of the configured one")
	labelsCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")
}
