package support

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/spotter/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string

	// In-process detection server
	Server *TestServer

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    http.Header

	// Websocket stream state
	StreamResponses []StreamResponse
}

// NewTestContext creates a scenario context rooted at the project directory
// with a private temp directory for artifacts.
func NewTestContext() (*TestContext, error) {
	workingDir, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "spotter-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		WorkingDir: workingDir,
		TempDir:    tempDir,
		EnvVars:    []string{},
	}, nil
}

// Cleanup stops the server and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if testCtx.Server != nil {
		if err := testCtx.Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
		}
		testCtx.Server = nil
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}

	return errors.Join(errs...)
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TempPath returns name inside the scenario temp directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// substituteCommandVariables expands {tmp} to the scenario temp directory.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	return strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
}
