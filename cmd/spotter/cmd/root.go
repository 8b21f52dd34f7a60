package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/spotter/internal/config"
	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/MeKo-Tech/spotter/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "spotter",
	Short: "Object detection for still images and live frame streams",
	Long: `spotter runs a pretrained SSD object detection network through ONNX Runtime
and reports labeled, ranked bounding boxes for every frame.

This tool provides:
- Detection on image files with text, JSON or CSV output
- An HTTP API and a websocket frame stream for live video
- COCO labels built in, custom label files supported
- CPU and CUDA inference with ONNX Runtime

Examples:
  spotter image street.jpg
  spotter image frames/*.png --format json --confidence 0.6
  spotter serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
			if rt := version.RuntimeVersion(); rt != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ONNX Runtime %s\n", rt)
			}
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/spotter, /etc/spotter)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models and labels (can also be set via "+models.EnvModelsDir+")")

	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	for key, flag := range map[string]string{
		"verbose":    "verbose",
		"log_level":  "log-level",
		"models_dir": "models-dir",
	} {
		mustBind(key, rootCmd.PersistentFlags().Lookup(flag))
	}

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg := GetConfig()
		slog.SetDefault(newLogger(os.Stdout, cfg.LogLevel, cfg.Verbose))
	}
}

// parseLogLevel maps a configured level name to a slog level. Unknown names
// fall back to info; verbose always means debug.
func parseLogLevel(name string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level, verbose),
	}))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the configuration including values from bound CLI flags.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}

	// Flags are bound after the first load, so unmarshal again to pick them up.
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}
