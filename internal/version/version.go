// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("spotter %s (commit %s, built %s, %s/%s)",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}

// RuntimeVersion reports the ONNX Runtime version, or "" before the
// environment is initialized.
func RuntimeVersion() string {
	if !ort.IsInitialized() {
		return ""
	}
	return ort.GetVersion()
}
