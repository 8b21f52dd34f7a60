// Package onnx locates and initialises the ONNX Runtime shared library and
// provides helpers for execution providers and tensor shapes.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides library discovery when set.
const LibraryPathEnv = "ONNXRUNTIME_LIB_PATH"

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

var envMu sync.Mutex

// libraryName returns the shared library filename for goos.
func libraryName(goos string) (string, error) {
	switch goos {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// systemLibraryPaths lists well-known install locations, GPU builds first
// when a GPU build is preferred.
func systemLibraryPaths(preferGPU bool) []string {
	paths := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	if preferGPU {
		return append([]string{"/opt/onnxruntime/gpu/lib/libonnxruntime.so"}, paths...)
	}
	return paths
}

// findProjectRoot walks up from dir until it finds a go.mod.
func findProjectRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// candidateLibraryPaths returns every location probed, in order: explicit
// path, $ONNXRUNTIME_LIB_PATH, system paths, then the project-local
// onnxruntime/{gpu/,}lib directory.
func candidateLibraryPaths(explicit string, preferGPU bool) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		out = append(out, env)
	}
	out = append(out, systemLibraryPaths(preferGPU)...)

	name, err := libraryName(runtime.GOOS)
	if err != nil {
		return out
	}
	cwd, err := os.Getwd()
	if err != nil {
		return out
	}
	root, err := findProjectRoot(cwd)
	if err != nil {
		return out
	}
	if preferGPU {
		out = append(out, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
	}
	return append(out, filepath.Join(root, "onnxruntime", "lib", name))
}

// ResolveLibraryPath returns the first existing ONNX Runtime library.
func ResolveLibraryPath(explicit string, preferGPU bool) (string, error) {
	candidates := candidateLibraryPaths(explicit, preferGPU)
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (tried %d locations, set %s)", len(candidates), LibraryPathEnv)
}

// EnsureEnvironment initialises the process-wide ONNX Runtime environment
// once. Later calls are no-ops.
func EnsureEnvironment(libPath string, preferGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(libPath, preferGPU)
	if err != nil {
		return err
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path, "version", ort.GetVersion())
	return nil
}

// ShutdownEnvironment destroys the process-wide environment if it exists.
func ShutdownEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
