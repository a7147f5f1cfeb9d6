// Package embedding implements the Embedding Dispatcher (§4.D): content
// normalization, batching, retry, and the two wire-format provider
// clients it can target.
package embedding

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Content is a single embeddable unit: free text, an image, or a video
// (only as a remote URL; local video paths are rejected, per §4.D).
type Content struct {
	Text      string
	ImagePath string
	VideoPath string
}

// Embedding is one provider result: the embedding vector and which half
// of a multimodal Content it was computed from.
type Embedding struct {
	Index     int
	Vector    []float32
	Type      string // "text" or "image"
}

var extMIME = map[string]string{
	"jpg": "jpeg;base64,", "jpeg": "jpeg;base64,",
	"png": "png;base64,", "webp": "webp;base64,",
}

// normalizeImage turns a Content's image path into the provider wire
// value: an http(s) URL passes through untouched, while a local path is
// base64-encoded into a data: URI — mirroring the source dispatcher's
// fixed extension-to-MIME table (§4.D).
func normalizeImage(path string) (string, error) {
	if strings.HasPrefix(path, "http") {
		return path, nil
	}

	ext := ""
	if i := strings.LastIndex(path, "."); i >= 0 {
		ext = strings.ToLower(path[i+1:])
	}
	mime, ok := extMIME[ext]
	if !ok {
		return "", fmt.Errorf("embedding: unsupported image format %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("embedding: read image %s: %w", path, err)
	}

	return "data:image/" + mime + base64.StdEncoding.EncodeToString(data), nil
}

// normalizeVideo rejects local video paths outright: the dispatcher has
// no video embedding support, matching the source's immediate failure on
// a non-http video_path (§4.D Non-goals).
func normalizeVideo(path string) (string, error) {
	if strings.HasPrefix(path, "http") {
		return path, nil
	}
	return "", fmt.Errorf("embedding: local video embedding not supported: %s", path)
}
