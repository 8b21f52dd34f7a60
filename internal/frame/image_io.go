package frame

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Metadata captures lightweight file and pixel information.
type Metadata struct {
	Path      string
	SizeBytes int64
	Width     int
	Height    int
}

// Load opens and decodes an image file into a frame. EXIF orientation is
// applied so camera stills come out upright.
func Load(path string, channels int) (*Frame, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &ProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		err := &ProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
		return nil, Metadata{}, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, Metadata{}, &ProcessingError{Operation: "load", Err: err}
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, Metadata{}, &ProcessingError{Operation: "decode", Err: err}
	}

	f, err := FromImage(img, channels)
	if err != nil {
		return nil, Metadata{}, err
	}
	return f, Metadata{Path: path, SizeBytes: fi.Size(), Width: f.Width, Height: f.Height}, nil
}

// Decode reads an encoded image (JPEG, PNG, BMP, GIF, WebP) from r.
func Decode(r io.Reader, channels int) (*Frame, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ProcessingError{Operation: "decode", Err: err}
	}
	return FromImage(img, channels)
}
