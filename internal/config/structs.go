//nolint:lll
package config

// Config represents the complete configuration for the spotter application.
// It includes settings for all commands (image, serve, labels) and supports
// loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Detection model and decoding
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DetectorConfig contains model, label and decoding settings.
type DetectorConfig struct {
	ModelPath      string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LabelsPath     string  `mapstructure:"labels_path" yaml:"labels_path" json:"labels_path"`
	TopHits        int     `mapstructure:"top_hits" yaml:"top_hits" json:"top_hits"`
	MinConfidence  float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	InputWidth     int     `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight    int     `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	Channels       int     `mapstructure:"channels" yaml:"channels" json:"channels"`
	InputName      string  `mapstructure:"input_name" yaml:"input_name" json:"input_name"`
	BoxesOutput    string  `mapstructure:"boxes_output" yaml:"boxes_output" json:"boxes_output"`
	ClassesOutput  string  `mapstructure:"classes_output" yaml:"classes_output" json:"classes_output"`
	ScoresOutput   string  `mapstructure:"scores_output" yaml:"scores_output" json:"scores_output"`
	NumThreads     int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	FrameTimeoutMs int     `mapstructure:"frame_timeout_ms" yaml:"frame_timeout_ms" json:"frame_timeout_ms"`

	// Warmup iterations
	WarmupIterations int `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format              string `mapstructure:"format" yaml:"format" json:"format"`
	File                string `mapstructure:"file" yaml:"file" json:"file"`
	ConfidencePrecision int    `mapstructure:"confidence_precision" yaml:"confidence_precision" json:"confidence_precision"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host" json:"host"`
	Port               int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin         string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB        int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec         int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout    int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	PoolSize           int    `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size"`
	AcquireTimeoutSec  int    `mapstructure:"acquire_timeout_sec" yaml:"acquire_timeout_sec" json:"acquire_timeout_sec"`
	RateLimitEnabled   bool   `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute  int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour    int    `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay  int    `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayBytes int64  `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
