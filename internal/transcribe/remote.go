package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ironsheep/rx-transcriber/internal/imaging"
)

// Remote is a Transcriber backed by an HTTP text-recognition service.
//
//	GET  {base}/health      -> 200 once the model is loaded
//	POST {base}/transcribe  multipart: image (PNG) -> {"text": "..."}
type Remote struct {
	baseURL string
	httpc   *http.Client
}

// NewRemote creates a client for the service at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient overrides the internal HTTP client.
func (r *Remote) WithHTTPClient(c *http.Client) *Remote {
	if c != nil {
		r.httpc = c
	}
	return r
}

// Ready checks that the service is up and has its model loaded.
func (r *Remote) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("transcriber service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcriber service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// Transcribe uploads the crop as PNG and returns the cleaned text.
func (r *Remote) Transcribe(ctx context.Context, img image.Image) (string, error) {
	payload, err := imaging.EncodePNG(img)
	if err != nil {
		return "", err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "region.png")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/transcribe", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if len(msg) > 256 {
			msg = msg[:256] + "..."
		}
		return "", fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, msg)
	}

	var result struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.Text == nil {
		return "", fmt.Errorf("decode response: missing text field")
	}
	return StripArtifacts(*result.Text), nil
}
