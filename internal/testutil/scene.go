package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/spotter/internal/onnx/mock"
)

// SceneObject is one filled rectangle in a synthetic scene together with the
// class and score a detector is expected to report for it.
type SceneObject struct {
	Class int             `json:"class"`
	Score float32         `json:"score"`
	Rect  image.Rectangle `json:"rect"`
	Color color.RGBA      `json:"-"`
}

// Scene describes a synthetic frame with known object placements.
type Scene struct {
	Name       string        `json:"name"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Background color.RGBA    `json:"-"`
	Objects    []SceneObject `json:"objects"`
}

// Image renders the scene as an RGBA image.
func (s Scene) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	bg := s.Background
	if bg == (color.RGBA{}) {
		bg = color.RGBA{R: 235, G: 235, B: 235, A: 255}
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	for _, o := range s.Objects {
		c := o.Color
		if c == (color.RGBA{}) {
			c = color.RGBA{R: 40, G: 90, B: 200, A: 255}
		}
		draw.Draw(img, o.Rect.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
	return img
}

// Candidates returns the synthetic detector slots for the scene's objects,
// boxes normalized to [ymin, xmin, ymax, xmax].
func (s Scene) Candidates() []mock.Candidate {
	out := make([]mock.Candidate, 0, len(s.Objects))
	w, h := float32(s.Width), float32(s.Height)
	for _, o := range s.Objects {
		out = append(out, mock.Candidate{
			Box: [4]float32{
				float32(o.Rect.Min.Y) / h,
				float32(o.Rect.Min.X) / w,
				float32(o.Rect.Max.Y) / h,
				float32(o.Rect.Max.X) / w,
			},
			Class: o.Class,
			Score: o.Score,
		})
	}
	return out
}

// Outputs lays the scene's candidates out as SSD output tensors.
func (s Scene) Outputs() mock.Outputs {
	return mock.NewOutputs(s.Candidates())
}

// Save writes <dir>/<name>.png plus a <name>.json description and returns
// the image path.
func (s Scene) Save(dir string) (string, error) {
	if s.Name == "" {
		return "", errors.New("scene has no name")
	}
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	imgPath := filepath.Join(dir, s.Name+".png")
	if err := imaging.Save(s.Image(), imgPath); err != nil {
		return "", fmt.Errorf("save scene image: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, s.Name+".json"), data, 0o600); err != nil {
		return "", fmt.Errorf("save scene description: %w", err)
	}
	return imgPath, nil
}

// LoadScene reads a scene description written by Save.
func LoadScene(path string) (Scene, error) {
	var s Scene
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse scene %s: %w", path, err)
	}
	return s, nil
}

// StreetScene is a small fixed scene: a person and a car on a plain road.
func StreetScene() Scene {
	return Scene{
		Name:   "street",
		Width:  320,
		Height: 240,
		Objects: []SceneObject{
			{Class: 1, Score: 0.91, Rect: image.Rect(40, 60, 100, 220), Color: color.RGBA{R: 200, G: 60, B: 60, A: 255}},
			{Class: 3, Score: 0.78, Rect: image.Rect(160, 120, 300, 200), Color: color.RGBA{R: 50, G: 50, B: 50, A: 255}},
		},
	}
}

// EmptyScene has no objects at all.
func EmptyScene(width, height int) Scene {
	return Scene{Name: "empty", Width: width, Height: height}
}
