package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ironsheep/rx-transcriber/internal/geometry"
	"github.com/ironsheep/rx-transcriber/internal/imaging"
)

// uploadQuality is the JPEG quality used when shipping the photo to the
// inference service.
const uploadQuality = 95

// Remote is a Detector backed by an HTTP inference service.
//
// The service exposes:
//
//	GET  {base}/health  -> 200 once the model is loaded
//	POST {base}/detect  multipart: image (JPEG), conf, iou, agnostic_nms
//	                    -> {"detections":[{"x1","y1","x2","y2","confidence","class_id"}]}
type Remote struct {
	baseURL string
	opts    Options
	httpc   *http.Client
}

// NewRemote creates a client for the service at baseURL. timeout bounds each
// HTTP exchange; zero means no client-side limit beyond the caller's context.
func NewRemote(baseURL string, opts Options, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
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
		return fmt.Errorf("detector service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

type remoteDetection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// Detect uploads img and returns the service's detections. Detections below
// the confidence threshold are dropped even if the service returned them.
func (r *Remote) Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error) {
	payload, err := imaging.EncodeJPEG(img, uploadQuality)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "prescription.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	fields := map[string]string{
		"conf":         strconv.FormatFloat(r.opts.Confidence, 'f', -1, 64),
		"iou":          strconv.FormatFloat(r.opts.IoU, 'f', -1, 64),
		"agnostic_nms": strconv.FormatBool(r.opts.Agnostic),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection failed with status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var result struct {
		Detections []remoteDetection `json:"detections"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The uploaded JPEG starts at (0,0); shift boxes back to img's coordinates.
	origin := img.Bounds().Min
	dx, dy := float64(origin.X), float64(origin.Y)

	dets := make([]geometry.Detection, 0, len(result.Detections))
	for i, rd := range result.Detections {
		class := geometry.Class(rd.ClassID)
		if !class.Valid() {
			return nil, fmt.Errorf("detection %d: unknown class id %d", i, rd.ClassID)
		}
		if rd.Confidence < r.opts.Confidence {
			continue
		}
		dets = append(dets, geometry.Detection{
			Box:        geometry.Box{X1: rd.X1 + dx, Y1: rd.Y1 + dy, X2: rd.X2 + dx, Y2: rd.Y2 + dy},
			Confidence: rd.Confidence,
			Class:      class,
		})
	}
	return dets, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
