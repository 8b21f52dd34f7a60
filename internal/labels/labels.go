// Package labels maps network class ids to human-readable names.
package labels

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

//go:embed coco.txt
var cocoLabels []byte

// Table is an ordered, immutable list of class names. Entry i names the
// network class id i+1; id 0 is the background class and has no entry.
type Table struct {
	names  []string
	source string
}

// removeBOM removes a UTF-8 BOM if present on the first line.
func removeBOM(line string, isFirstLine bool) string {
	if isFirstLine {
		return strings.TrimPrefix(line, "\uFEFF")
	}
	return line
}

// processLine trims and NFC-normalizes a single label line.
func processLine(line string, lineNum int) string {
	line = removeBOM(line, lineNum == 1)
	line = strings.TrimSpace(line)
	return norm.NFC.String(line)
}

// Parse reads one label per line. Blank lines inside the file keep their
// slot so that line numbers stay aligned with class ids; trailing blank lines
// are dropped.
func Parse(r io.Reader, source string) (*Table, error) {
	scanner := bufio.NewScanner(r)
	names := make([]string, 0, 128)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		names = append(names, processLine(scanner.Text(), lineNum))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading labels: %w", err)
	}

	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("label file is empty: %s", source)
	}

	return &Table{names: names, source: source}, nil
}

// Load reads a label file from disk.
func Load(path string) (*Table, error) {
	if path == "" {
		return nil, errors.New("labels path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: label file path is user configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing labels file: %v\n", err)
		}
	}()

	return Parse(f, path)
}

// COCO returns the built-in 90-id COCO label map used by the TensorFlow
// object detection model zoo. Unused ids are named "N/A".
func COCO() *Table {
	t, err := Parse(bytes.NewReader(cocoLabels), "builtin:coco")
	if err != nil {
		panic(fmt.Sprintf("embedded COCO labels are invalid: %v", err))
	}
	return t
}

// LoadOrDefault loads path, or returns the built-in COCO table when path is empty.
func LoadOrDefault(path string) (*Table, error) {
	if path == "" {
		return COCO(), nil
	}
	return Load(path)
}

// New builds a table from names. The slice is copied.
func New(names []string) *Table {
	cp := make([]string, len(names))
	copy(cp, names)
	return &Table{names: cp, source: "inline"}
}

// Len returns the number of labels.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Lookup returns the name for a 1-based class id.
func (t *Table) Lookup(classID int) (string, bool) {
	if t == nil || classID < 1 || classID > len(t.names) {
		return "", false
	}
	return t.names[classID-1], true
}

// Names returns a copy of all labels in class-id order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Source describes where the table was loaded from.
func (t *Table) Source() string {
	if t == nil {
		return ""
	}
	return t.source
}
