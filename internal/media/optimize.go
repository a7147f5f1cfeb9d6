package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/webp" // register webp decoding
)

var qualityLevels = []int{85, 75, 65, 55, 45, 35}
var dimensionLevels = []int{4000, 3000, 2000, 1500, 1200, 1000, 800}

// Optimize decodes raw image bytes and, if they already fit within
// MaxDimension/MaxBytes, returns them unchanged; otherwise it grid-searches
// dimension and JPEG quality, from the largest dimension and highest
// quality down, and returns the first encoding that fits.
func Optimize(data []byte) (*ImageData, error) {
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("media: unsupported image type %s", mimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= MaxDimension && height <= MaxDimension && len(data) <= MaxBytes {
		return &ImageData{Data: data, MimeType: mimeType, Width: width, Height: height}, nil
	}

	return optimizeWithGridSearch(img, width, height, format)
}

func optimizeWithGridSearch(img image.Image, origWidth, origHeight int, format string) (*ImageData, error) {
	maxDim := origWidth
	if origHeight > maxDim {
		maxDim = origHeight
	}

	dimensions := make([]int, 0, len(dimensionLevels)+1)
	for _, d := range dimensionLevels {
		if d <= MaxDimension && d < maxDim {
			dimensions = append(dimensions, d)
		}
	}
	if maxDim <= MaxDimension {
		dimensions = append([]int{maxDim}, dimensions...)
	} else {
		dimensions = append([]int{MaxDimension}, dimensions...)
	}

	var smallest *ImageData

	for _, targetDim := range dimensions {
		resized := img
		newWidth, newHeight := origWidth, origHeight
		if origWidth > targetDim || origHeight > targetDim {
			resized = imaging.Fit(img, targetDim, targetDim, imaging.Lanczos)
			bounds := resized.Bounds()
			newWidth, newHeight = bounds.Dx(), bounds.Dy()
		}

		for _, quality := range qualityLevels {
			encoded, mimeType, err := encodeImage(resized, format, quality)
			if err != nil {
				continue
			}

			if smallest == nil || len(encoded) < len(smallest.Data) {
				smallest = &ImageData{Data: encoded, MimeType: mimeType, Width: newWidth, Height: newHeight}
			}
			if len(encoded) <= MaxBytes {
				return &ImageData{Data: encoded, MimeType: mimeType, Width: newWidth, Height: newHeight}, nil
			}
		}

		if format != "jpeg" {
			break
		}
	}

	if smallest != nil {
		if len(smallest.Data) > MaxBytes {
			return nil, fmt.Errorf("media: image could not be reduced below %dMB (got %.2fMB)",
				MaxBytes/(1024*1024), float64(len(smallest.Data))/(1024*1024))
		}
		return smallest, nil
	}
	return nil, fmt.Errorf("media: failed to optimize image")
}

func encodeImage(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	case "gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err
	case "webp":
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	default:
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	}
}
