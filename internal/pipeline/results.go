package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/spotter/internal/detector"
)

// Output formats understood by Format.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// FrameJSON is the serialized form of a FrameResult.
type FrameJSON struct {
	Sequence   uint64                   `json:"sequence,omitempty"`
	Source     string                   `json:"source,omitempty"`
	Width      int                      `json:"width"`
	Height     int                      `json:"height"`
	Detections []detector.DetectionJSON `json:"detections"`
	Timing     StageTimings             `json:"timing"`
	Error      string                   `json:"error,omitempty"`
}

// NewFrameJSON converts a result to its JSON form.
func NewFrameJSON(res *FrameResult) FrameJSON {
	inner := detector.NewResultJSON(res.Detections, res.Width, res.Height)
	out := FrameJSON{
		Sequence:   res.Sequence,
		Source:     res.Source,
		Width:      res.Width,
		Height:     res.Height,
		Detections: inner.Detections,
		Timing:     res.Timing,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// ToJSON serializes a single result to pretty JSON.
func ToJSON(res *FrameResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(NewFrameJSON(res), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONMany serializes several results as a JSON array.
func ToJSONMany(results []*FrameResult) (string, error) {
	out := make([]FrameJSON, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		out = append(out, NewFrameJSON(r))
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Label renders a detection the way it is captioned on screen:
// "name (87.50%)".
func Label(d detector.Detection, precision int) string {
	return fmt.Sprintf("%s (%.*f%%)", d.Name, precision, float64(d.Confidence)*100)
}

// ToText prints one line per detection: caption followed by the box.
func ToText(res *FrameResult, precision int) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	lines := make([]string, 0, len(res.Detections))
	for _, d := range res.Detections {
		lines = append(lines, fmt.Sprintf("%s at [%.0f,%.0f]-[%.0f,%.0f]",
			Label(d, precision),
			d.Box.LowerLeft.X, d.Box.LowerLeft.Y,
			d.Box.UpperRight.X, d.Box.UpperRight.Y))
	}
	return strings.Join(lines, "\n"), nil
}

// ToCSV exports detections as CSV with a header row.
func ToCSV(res *FrameResult, precision int) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"source", "name", "confidence", "x_min", "y_min", "x_max", "y_max"})
	for _, d := range res.Detections {
		_ = w.Write([]string{
			res.Source,
			d.Name,
			strconv.FormatFloat(float64(d.Confidence), 'f', precision, 32),
			strconv.FormatFloat(float64(d.Box.LowerLeft.X), 'f', 1, 32),
			strconv.FormatFloat(float64(d.Box.LowerLeft.Y), 'f', 1, 32),
			strconv.FormatFloat(float64(d.Box.UpperRight.X), 'f', 1, 32),
			strconv.FormatFloat(float64(d.Box.UpperRight.Y), 'f', 1, 32),
		})
	}
	w.Flush()
	return buf.String(), w.Error()
}

// Format renders res in the named format.
func Format(res *FrameResult, format string, precision int) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return ToText(res, precision)
	case FormatJSON:
		return ToJSON(res)
	case FormatCSV:
		return ToCSV(res, precision)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ValidateFrameResult checks the detections against the frame size.
func ValidateFrameResult(res *FrameResult) error {
	if res == nil {
		return errors.New("nil result")
	}
	return detector.ValidateDetections(res.Detections, res.Width, res.Height)
}
