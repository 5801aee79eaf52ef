package imageio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound reports that the referenced image file does not exist. Callers
// distinguish it from corrupt or unreadable files.
var ErrNotFound = errors.New("image file not found")

// Loader resolves frame image references to raw bytes.
type Loader interface {
	Load(imageRef string) ([]byte, error)
}

// FileLoader reads images from local storage. References are absolute paths
// or file:// URIs.
type FileLoader struct{}

// NewFileLoader creates a loader over the local filesystem.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// Load resolves imageRef and returns the raw image bytes.
func (l *FileLoader) Load(imageRef string) ([]byte, error) {
	path := ResolvePath(imageRef)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return data, nil
}

// ResolvePath strips a file:// prefix if present.
func ResolvePath(imageRef string) string {
	return strings.TrimPrefix(imageRef, "file://")
}

// MIMEType guesses the image MIME type from the file extension. Unknown or
// non-image extensions fall back to image/jpeg.
func MIMEType(imageRef string) string {
	ext := strings.ToLower(filepath.Ext(ResolvePath(imageRef)))
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

// DataURI encodes image bytes as a data URI suitable for vision model requests.
func DataURI(imageRef string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", MIMEType(imageRef), base64.StdEncoding.EncodeToString(data))
}
