package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSceneImage(t *testing.T) {
	s := StreetScene()
	img := s.Image()

	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())
	assert.Equal(t, color.RGBA{R: 200, G: 60, B: 60, A: 255}, img.RGBAAt(50, 100))
	assert.Equal(t, color.RGBA{R: 50, G: 50, B: 50, A: 255}, img.RGBAAt(200, 150))
	assert.Equal(t, color.RGBA{R: 235, G: 235, B: 235, A: 255}, img.RGBAAt(5, 5))
}

func TestSceneCandidates(t *testing.T) {
	s := Scene{
		Width:  200,
		Height: 100,
		Objects: []SceneObject{
			{Class: 18, Score: 0.5, Rect: image.Rect(20, 10, 100, 50)},
		},
	}

	cands := s.Candidates()
	require.Len(t, cands, 1)
	assert.InDeltaSlice(t, []float32{0.1, 0.1, 0.5, 0.5}, cands[0].Box[:], 1e-6)
	assert.Equal(t, 18, cands[0].Class)
	assert.InDelta(t, 0.5, cands[0].Score, 1e-6)

	out := s.Outputs()
	assert.Equal(t, 1, out.N)
	assert.Len(t, out.Boxes, 4)
}

func TestEmptyScene(t *testing.T) {
	s := EmptyScene(64, 48)
	assert.Empty(t, s.Candidates())
	assert.Equal(t, 0, s.Outputs().N)
	assert.Equal(t, 64, s.Image().Bounds().Dx())
}

func TestSceneSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := StreetScene()

	imgPath, err := s.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "street.png"), imgPath)

	img, err := imaging.Open(imgPath)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())

	loaded, err := LoadScene(filepath.Join(dir, "street.json"))
	require.NoError(t, err)
	assert.Equal(t, s.Name, loaded.Name)
	require.Len(t, loaded.Objects, 2)
	assert.Equal(t, s.Objects[1].Rect, loaded.Objects[1].Rect)
	assert.Equal(t, s.Candidates(), loaded.Candidates())
}

func TestSceneSaveWithoutName(t *testing.T) {
	_, err := Scene{Width: 1, Height: 1}.Save(t.TempDir())
	assert.Error(t, err)
}

func TestLoadSceneErrors(t *testing.T) {
	_, err := LoadScene(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
