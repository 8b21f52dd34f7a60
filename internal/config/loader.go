package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "spotter"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SPOTTER"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, which is where
// the root command binds its flags.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations instead.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars only.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables maps detector.min_confidence to
// SPOTTER_DETECTOR_MIN_CONFIDENCE and so on.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every field of DefaultConfig under its dotted key,
// so environment variables can override keys no file mentions.
func (l *Loader) setDefaults() {
	for key, value := range defaultSettings() {
		l.v.SetDefault(key, value)
	}
}

// defaultSettings flattens DefaultConfig into dotted keys using the yaml
// tags, which match the mapstructure tags.
func defaultSettings() map[string]interface{} {
	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("marshal default config: %v", err))
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		panic(fmt.Sprintf("unmarshal default config: %v", err))
	}

	flat := make(map[string]interface{})
	flatten("", tree, flat)
	return flat
}

func flatten(prefix string, tree map[string]interface{}, out map[string]interface{}) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

// Settings returns every resolved key, flags and environment included.
func (l *Loader) Settings() map[string]interface{} {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes a configuration file holding every default.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "spotter"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "spotter"))
	}

	paths = append(paths, "/etc/spotter")

	return paths
}

// WriteInfo describes where configuration comes from.
func (l *Loader) WriteInfo(w io.Writer) error {
	used := l.GetConfigFileUsed()
	if used == "" {
		used = "(none, defaults and environment only)"
	}
	_, err := fmt.Fprintf(w, "Config file:  %s\nSearch paths: %s\nEnv prefix:   %s_\n",
		used, strings.Join(GetConfigSearchPaths(), ", "), EnvPrefix)
	return err
}
