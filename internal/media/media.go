// Package media handles local image storage, MIME detection, and size
// optimization for files the indexing engine downloads from the
// messaging client (§4.E step 4, §6).
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Limits bound the image size the OCR and embedding collaborators will
// accept. Unlike a vision-LLM's per-request limits, these are generous:
// the grid search in Optimize only engages when a download genuinely
// exceeds them.
const (
	MaxDimension = 4000
	MaxBytes     = 10 * 1024 * 1024
	MaxQuality   = 90
)

var supportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageData is a processed image ready to be written to disk.
type ImageData struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Size returns the size in bytes.
func (img *ImageData) Size() int {
	return len(img.Data)
}

// DetectMIME returns the MIME type from magic bytes, not file extension.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported reports whether mimeType is one Optimize can handle.
func IsSupported(mimeType string) bool {
	return supportedMIMETypes[mimeType]
}

// extForMIME maps a detected MIME type to the extension used for
// on-disk storage.
func extForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// Store writes img under dir using a random UUID filename, returning the
// full path (§6: media is addressed by local path once downloaded).
func Store(dir string, img *ImageData) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("media: create dir %s: %w", dir, err)
	}

	name := uuid.NewString() + "." + extForMIME(img.MimeType)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.Data, 0640); err != nil {
		return "", fmt.Errorf("media: write %s: %w", path, err)
	}
	return path, nil
}
