package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommand(t *testing.T) {
	assert.NotNil(t, testCmd)
	assert.Equal(t, "test", testCmd.Use)
	assert.NotEmpty(t, testCmd.Short)
}

func TestTestCommandHelp(t *testing.T) {
	buf := new(bytes.Buffer)
	testCmd.SetOut(buf)
	testCmd.SetErr(buf)
	t.Cleanup(func() {
		testCmd.SetOut(nil)
		testCmd.SetErr(nil)
	})
	require.NoError(t, testCmd.Help())

	output := strings.TrimSpace(buf.String())
	assert.Contains(t, output, "detection model")
	assert.Contains(t, output, "Usage:")
}

func TestTestCommandMissingModel(t *testing.T) {
	resetFlag(t, rootCmd, "models-dir")

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"test", "--models-dir", t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup check failed")
	assert.Contains(t, output, "Detection model: FAILED")
	// The runtime check may pass or fail depending on the host.
	assert.Contains(t, output, "ONNX Runtime:")
}
