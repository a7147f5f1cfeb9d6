// Package ocr implements the OCR HTTP collaborator (§6): a single
// multipart/form-data POST per image, fixed to the image/webp content
// type regardless of the source image's actual format, with up to 3
// retries (4 attempts in all) on transport, non-200 status or decode
// failure.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	. "github.com/rdxlab/tgdb/internal/logging"
)

const maxRetries = 3

// region is a single recognized text box in the OCR service's response.
// dt_boxes (the bounding polygon) is decoded but unused: the indexing
// engine only consumes the recognized text (§4.E step 4).
type region struct {
	RecText string        `json:"rec_txt"`
	DTBoxes [][][]float32 `json:"dt_boxes"`
}

// response is keyed by an opaque region id the service assigns; iteration
// order is not meaningful, so Client.Recognize sorts output by region id
// for deterministic results.
type response map[string]region

// Client calls an external OCR service over HTTP.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// New builds a Client targeting apiURL, with a 30-second timeout on each
// whole request (connect, upload and response together).
func New(apiURL string) *Client {
	return &Client{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Recognize runs OCR on the image at filePath and returns the recognized
// text, one line per detected region, always declaring the multipart
// part's content type as image/webp regardless of filePath's real format
// — the upstream OCR service only inspects image bytes, not the declared
// MIME type, so this mirrors the source client's fixed declaration.
func (c *Client) Recognize(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("ocr: read %s: %w", filePath, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			L_warn("ocr: retrying request", "file", filePath, "attempt", attempt)
		}

		text, err := c.once(ctx, filePath, data)
		if err == nil {
			return text, nil
		}
		lastErr = err
		L_error("ocr: request failed", "file", filePath, "err", err)
	}

	return "", fmt.Errorf("ocr: recognize %s: %w", filePath, lastErr)
}

func (c *Client) once(ctx context.Context, filePath string, data []byte) (string, error) {
	body, contentType, err := buildMultipartBody(filePath, data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr service status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	ids := make([]string, 0, len(parsed))
	for id := range parsed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]string, len(ids))
	for i, id := range ids {
		lines[i] = parsed[id].RecText
	}
	return strings.Join(lines, "\n"), nil
}

func buildMultipartBody(filePath string, data []byte) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	part, err := writer.CreatePart(partHeader(filePath))
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf, writer.FormDataContentType(), nil
}

func partHeader(filePath string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="image_file"; filename="%s"`, filepath.Base(filePath))},
		"Content-Type":        {"image/webp"},
	}
}
