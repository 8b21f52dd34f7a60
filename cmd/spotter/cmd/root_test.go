package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to execute command and capture output.
func executeCommandAndCaptureOutput(t *testing.T, cmd *cobra.Command, args []string) (string, error) {
	t.Helper()

	t.Cleanup(func() { resetHelpFlags(cmd) })

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return strings.TrimSpace(buf.String()), err
}

// resetFlag restores a flag value after the test; cobra keeps flag state
// between executions of the same command tree.
func resetFlag(t *testing.T, cmd *cobra.Command, name string) {
	t.Helper()
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	require.NotNil(t, f, name)
	def := f.DefValue
	t.Cleanup(func() {
		_ = f.Value.Set(def)
		f.Changed = false
	})
}

// resetHelpFlags clears --help on cmd and its subcommands; cobra only
// checks the flag value, so a stale true turns the next run into help.
func resetHelpFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, sub := range cmd.Commands() {
		resetHelpFlags(sub)
	}
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "spotter", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--help"})
	require.NoError(t, err)

	assert.Contains(t, output, "SSD object detection")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
}

func TestRootCommandVersionAfterHelp(t *testing.T) {
	resetFlag(t, rootCmd, "version")

	_, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--help"})
	require.NoError(t, err)
	resetHelpFlags(rootCmd)

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--version"})
	require.NoError(t, err)
	assert.NotContains(t, output, "Available Commands:")
	assert.Contains(t, output, "commit")
}

func TestRootCommandVersion(t *testing.T) {
	resetFlag(t, rootCmd, "version")

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--version"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "spotter "), output)
	assert.Contains(t, output, "commit")
}

func TestRootCommandSubcommands(t *testing.T) {
	commandNames := make([]string, 0, len(rootCmd.Commands()))
	for _, subcmd := range rootCmd.Commands() {
		commandNames = append(commandNames, subcmd.Name())
	}

	for _, expected := range []string{"image", "serve", "labels", "test", "bench", "config"} {
		assert.Contains(t, commandNames, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"--invalid-flag"})
	require.Error(t, err)
	assert.Contains(t, output, "unknown flag")
}

func TestRootCommandNoArgs(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{})
	require.NoError(t, err)
	assert.NotEmpty(t, output)
}

func TestRootCommandPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "verbose", "log-level", "models-dir", "version"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		want    slog.Level
	}{
		{"debug", "debug", false, slog.LevelDebug},
		{"info", "info", false, slog.LevelInfo},
		{"warn", "warn", false, slog.LevelWarn},
		{"error", "error", false, slog.LevelError},
		{"case insensitive", "WARN", false, slog.LevelWarn},
		{"unknown falls back to info", "loud", false, slog.LevelInfo},
		{"verbose wins", "error", true, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.level, tt.verbose))
		})
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)

	logger.Info("hidden")
	logger.Warn("frame dropped", "sequence", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "frame dropped", entry["msg"])
	assert.InDelta(t, 7, entry["sequence"], 0)
}

func TestGetConfigDefaults(t *testing.T) {
	cfg := GetConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotNil(t, GetConfigLoader())
}
