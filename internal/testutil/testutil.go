// Package testutil holds helpers shared by unit and integration tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	rootOnce sync.Once
	rootDir  string
	rootErr  error
)

// GetProjectRoot returns the directory holding go.mod above this package.
// The lookup runs once per test binary.
func GetProjectRoot() (string, error) {
	rootOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			rootErr = errors.New("failed to get caller information")
			return
		}
		rootDir, rootErr = findUp(filepath.Dir(filename), "go.mod")
	})
	return rootDir, rootErr
}

// findUp walks from dir towards the filesystem root until name exists.
func findUp(dir, name string) (string, error) {
	for start := dir; ; {
		if FileExists(filepath.Join(dir, name)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find %s starting from %s", name, start)
		}
		dir = parent
	}
}

// GetTestDataDir returns the path to the testdata directory.
func GetTestDataDir(t *testing.T) string {
	t.Helper()

	root, err := GetProjectRoot()
	require.NoError(t, err, "Failed to find project root")

	return filepath.Join(root, "testdata")
}

// GetScenesDir returns the directory generated scene images are written to.
func GetScenesDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(GetTestDataDir(t), "scenes")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WriteLabelFile writes names one per line into dir and returns the path.
func WriteLabelFile(dir, name string, names []string) (string, error) {
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(names, "\n")+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write label file: %w", err)
	}
	return path, nil
}

// projectDirs must exist below a valid project root.
var projectDirs = []string{"internal", "cmd"}

// ValidateProjectRoot checks that root holds go.mod and the source trees.
func ValidateProjectRoot(root string) error {
	if mod := filepath.Join(root, "go.mod"); !FileExists(mod) {
		return fmt.Errorf("go.mod not found at %s", mod)
	}
	for _, name := range projectDirs {
		if p := filepath.Join(root, name); !DirExists(p) {
			return fmt.Errorf("required project directory %s not found at %s", name, p)
		}
	}
	return nil
}

// GetProjectRootValidated is GetProjectRoot plus ValidateProjectRoot.
func GetProjectRootValidated() (string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return "", err
	}
	if err := ValidateProjectRoot(root); err != nil {
		return "", fmt.Errorf("invalid project root %s: %w", root, err)
	}
	return root, nil
}
