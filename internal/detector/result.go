package detector

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResultJSON is a serializable representation of one frame's detections.
type ResultJSON struct {
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Detections []DetectionJSON `json:"detections"`
}

type DetectionJSON struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Box        BoxJSON `json:"box"`
}

// BoxJSON uses image pixel coordinates with x to the right and y down.
type BoxJSON struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// NewResultJSON converts detections to their JSON form.
func NewResultJSON(dets []Detection, width, height int) ResultJSON {
	out := ResultJSON{Width: width, Height: height, Detections: make([]DetectionJSON, 0, len(dets))}
	for _, d := range dets {
		out.Detections = append(out.Detections, DetectionJSON{
			Name:       d.Name,
			Confidence: float64(d.Confidence),
			Box: BoxJSON{
				XMin: float64(d.Box.LowerLeft.X),
				YMin: float64(d.Box.LowerLeft.Y),
				XMax: float64(d.Box.UpperRight.X),
				YMax: float64(d.Box.UpperRight.Y),
			},
		})
	}
	return out
}

// DetectionsToJSON marshals detections with indentation.
func DetectionsToJSON(dets []Detection, width, height int) ([]byte, error) {
	return json.MarshalIndent(NewResultJSON(dets, width, height), "", "  ")
}

// ResultFromJSON parses a ResultJSON document.
func ResultFromJSON(data []byte) (ResultJSON, error) {
	var res ResultJSON
	err := json.Unmarshal(data, &res)
	return res, err
}

// validateDetection checks ordering, range and bounds of one detection.
func validateDetection(d Detection, index, width, height int) error {
	if d.Box.LowerLeft.X > d.Box.UpperRight.X || d.Box.LowerLeft.Y > d.Box.UpperRight.Y {
		return fmt.Errorf("detection %d has unordered corners", index)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("detection %d confidence %v outside [0,1]", index, d.Confidence)
	}
	if d.Box.LowerLeft.X < 0 || d.Box.LowerLeft.Y < 0 ||
		d.Box.UpperRight.X > float32(width) || d.Box.UpperRight.Y > float32(height) {
		return fmt.Errorf("detection %d box out of bounds", index)
	}
	return nil
}

// ValidateDetections performs sanity checks against image dimensions.
func ValidateDetections(dets []Detection, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.New("invalid image dimensions for validation")
	}
	for i, d := range dets {
		if err := validateDetection(d, i, width, height); err != nil {
			return err
		}
	}
	return nil
}
