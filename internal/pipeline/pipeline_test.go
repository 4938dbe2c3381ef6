package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/rx-transcriber/internal/geometry"
)

// fakeDetector returns a fixed set of detections.
type fakeDetector struct {
	dets     []geometry.Detection
	err      error
	block    bool
	readyErr error
}

func (f *fakeDetector) Detect(ctx context.Context, _ image.Image) ([]geometry.Detection, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]geometry.Detection, len(f.dets))
	copy(out, f.dets)
	return out, nil
}

func (f *fakeDetector) Ready(context.Context) error {
	return f.readyErr
}

// fakeTranscriber names each crop by its height and records every crop.
type fakeTranscriber struct {
	mu     sync.Mutex
	crops  []image.Image
	failAt int // 1-based call number that fails; 0 never fails
	calls  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, img image.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return "", errors.New("recognizer exploded")
	}
	f.crops = append(f.crops, img)
	return fmt.Sprintf("h%d", img.Bounds().Dy()), nil
}

func whiteImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func det(x1, y1, x2, y2, conf float64, class geometry.Class) geometry.Detection {
	return geometry.Detection{Box: geometry.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: conf, Class: class}
}

func newTestPipeline(t *testing.T, d *fakeDetector, tr *fakeTranscriber) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), d, tr, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func decodeResultImage(t *testing.T, res *Result) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(res.AnnotatedImage)
	if err != nil {
		t.Fatalf("annotated image is not base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("annotated image is not a JPEG: %v", err)
	}
	return img
}

func TestRun_OrdersTopToBottom(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{
		det(10, 50, 90, 70, 0.9, geometry.ClassBody),    // height 20
		det(10, 10, 90, 20, 0.8, geometry.ClassHeading), // height 10
		det(10, 30, 90, 45, 0.7, geometry.ClassBody),    // height 15
	}}
	p := newTestPipeline(t, d, &fakeTranscriber{})

	res, err := p.Run(context.Background(), whiteImage(100, 100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Transcript != "h10\nh15\nh20" {
		t.Errorf("transcript = %q, want %q", res.Transcript, "h10\nh15\nh20")
	}
	for i := 1; i < len(res.Segments); i++ {
		if res.Segments[i-1].Detection.Box.Y1 > res.Segments[i].Detection.Box.Y1 {
			t.Errorf("segments not ascending by y1: %v", res.Segments)
		}
	}
}

func TestRun_DuplicatesCollapse(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{
		det(10, 10, 90, 30, 0.4, geometry.ClassBody),
		det(10, 10, 90, 30, 0.9, geometry.ClassBody),
		det(10, 60, 90, 80, 0.8, geometry.ClassBody),
	}}
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, d, tr)

	res, err := p.Run(context.Background(), whiteImage(100, 100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[0].Detection.Confidence != 0.4 {
		t.Errorf("kept confidence %v, want the first in order (0.4)", res.Segments[0].Detection.Confidence)
	}
	if tr.calls != len(res.Segments) {
		t.Errorf("transcriber called %d times for %d segments", tr.calls, len(res.Segments))
	}
	if len(res.Segments) > len(d.dets) {
		t.Error("more segments than raw detections")
	}
}

func TestRun_OutOfBoundsRegionSkipped(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{
		det(10, 10, 90, 30, 0.9, geometry.ClassHeading),
		det(500, 500, 600, 600, 0.9, geometry.ClassBody),
		det(40, 60, 40, 80, 0.9, geometry.ClassBody), // zero width
	}}
	p := newTestPipeline(t, d, &fakeTranscriber{})

	res, err := p.Run(context.Background(), whiteImage(100, 100))
	if err != nil {
		t.Fatalf("Run should succeed with invalid regions: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Errorf("got %d segments, want 1", len(res.Segments))
	}
	if len(res.Skipped) != 2 {
		t.Errorf("got %d skipped regions, want 2", len(res.Skipped))
	}
	if res.Transcript != "h20" {
		t.Errorf("transcript = %q", res.Transcript)
	}
}

func TestRun_PartiallyOutsideIsClipped(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{det(80, 90, 140, 130, 0.9, geometry.ClassBody)}}
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, d, tr)

	if _, err := p.Run(context.Background(), whiteImage(100, 100)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.crops) != 1 {
		t.Fatalf("got %d crops", len(tr.crops))
	}
	if got := tr.crops[0].Bounds().Size(); got != image.Pt(20, 10) {
		t.Errorf("crop size = %v, want (20,10)", got)
	}
}

func TestRun_CropsComeFromPristineImage(t *testing.T) {
	// The second box starts inside the first, so its crop would include the
	// first box's outline and label if crops were taken from the canvas.
	d := &fakeDetector{dets: []geometry.Detection{
		det(10, 10, 90, 40, 0.9, geometry.ClassHeading),
		det(5, 30, 95, 80, 0.9, geometry.ClassBody),
	}}
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, d, tr)

	src := whiteImage(100, 100)
	if _, err := p.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.crops) != 2 {
		t.Fatalf("got %d crops, want 2", len(tr.crops))
	}
	for i, crop := range tr.crops {
		b := crop.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := crop.At(x, y).RGBA()
				if r != 0xFFFF || g != 0xFFFF || bl != 0xFFFF {
					t.Fatalf("crop %d has annotation pixel at (%d,%d)", i, x, y)
				}
			}
		}
	}

	// The input itself is untouched.
	for i, v := range src.Pix {
		if v != 0xFF {
			t.Fatalf("input modified at byte %d", i)
		}
	}
}

func TestRun_AnnotatedImage(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{det(20, 60, 80, 90, 0.9, geometry.ClassBody)}}
	p := newTestPipeline(t, d, &fakeTranscriber{})

	res, err := p.Run(context.Background(), whiteImage(123, 97))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.MimeType != "image/jpeg" {
		t.Errorf("mime type = %q", res.MimeType)
	}

	img := decodeResultImage(t, res)
	if img.Bounds().Dx() != 123 || img.Bounds().Dy() != 97 {
		t.Errorf("annotated size = %v, want 123x97", img.Bounds().Size())
	}
	if res.Width != 123 || res.Height != 97 {
		t.Errorf("result size = %dx%d, want 123x97", res.Width, res.Height)
	}

	// Bottom edge of the body box is drawn in blue.
	r, g, b, _ := img.At(50, 89).RGBA()
	if b>>8 < 150 || r>>8 > 100 || g>>8 > 100 {
		t.Errorf("box edge colour = (%d,%d,%d), want blue", r>>8, g>>8, b>>8)
	}
	// Interior stays white.
	r, g, b, _ = img.At(50, 75).RGBA()
	if r>>8 < 230 || g>>8 < 230 || b>>8 < 230 {
		t.Errorf("box interior colour = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}

func TestRun_NoRegions(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{}, &fakeTranscriber{})

	res, err := p.Run(context.Background(), whiteImage(64, 48))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Transcript != "" || len(res.Segments) != 0 {
		t.Errorf("expected empty transcript, got %q", res.Transcript)
	}
	if img := decodeResultImage(t, res); img.Bounds().Size() != image.Pt(64, 48) {
		t.Errorf("annotated size = %v", img.Bounds().Size())
	}
}

// multiLineTranscriber returns recognizer output spread over several lines.
type multiLineTranscriber struct{}

func (multiLineTranscriber) Transcribe(context.Context, image.Image) (string, error) {
	return "Amoxicillin 500mg\ntid  x 7d\n", nil
}

func TestRun_OneLinePerSegment(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{
		det(10, 10, 90, 30, 0.9, geometry.ClassHeading),
		det(10, 50, 90, 70, 0.9, geometry.ClassBody),
	}}
	p, err := New(context.Background(), d, multiLineTranscriber{}, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Run(context.Background(), whiteImage(100, 100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(res.Transcript, "\n")
	if len(lines) != len(res.Segments) {
		t.Fatalf("transcript has %d lines for %d segments: %q", len(lines), len(res.Segments), res.Transcript)
	}
	for i, seg := range res.Segments {
		if seg.Text != "Amoxicillin 500mg tid x 7d" {
			t.Errorf("segment %d text = %q", i, seg.Text)
		}
		if lines[i] != seg.Text {
			t.Errorf("line %d = %q, want %q", i, lines[i], seg.Text)
		}
	}
}

func TestRun_TranscriberFailureAborts(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{
		det(10, 10, 90, 30, 0.9, geometry.ClassHeading),
		det(10, 50, 90, 70, 0.9, geometry.ClassBody),
	}}
	p := newTestPipeline(t, d, &fakeTranscriber{failAt: 2})

	res, err := p.Run(context.Background(), whiteImage(100, 100))
	if res != nil {
		t.Error("expected no partial result")
	}
	if !errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("err = %v, want ErrInferenceFailure", err)
	}
	var ie *InferenceError
	if !errors.As(err, &ie) || ie.Stage != StageTranscribe {
		t.Errorf("err = %#v, want transcribe stage", err)
	}
}

func TestRun_DetectorFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{err: errors.New("bad tensor")}, &fakeTranscriber{})

	_, err := p.Run(context.Background(), whiteImage(10, 10))
	var ie *InferenceError
	if !errors.As(err, &ie) || ie.Stage != StageDetect {
		t.Fatalf("err = %v, want detect stage InferenceError", err)
	}
	if !errors.Is(err, ErrInferenceFailure) {
		t.Error("detector failure should match ErrInferenceFailure")
	}
}

func TestRun_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	p, err := New(context.Background(), &fakeDetector{block: true}, &fakeTranscriber{}, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = p.Run(context.Background(), whiteImage(10, 10))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if !errors.Is(err, ErrInferenceFailure) {
		t.Errorf("timeout should be reported as an inference failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Run did not honour its budget")
	}
}

func TestRun_NilImage(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{}, &fakeTranscriber{})
	if _, err := p.Run(context.Background(), nil); !errors.Is(err, ErrNilImage) {
		t.Errorf("err = %v, want ErrNilImage", err)
	}
}

func TestRun_RequestIDs(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{}, &fakeTranscriber{})
	a, err := p.Run(context.Background(), whiteImage(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Run(context.Background(), whiteImage(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if a.RequestID == b.RequestID {
		t.Error("request ids should differ between calls")
	}
	if _, err := uuid.Parse(a.RequestID); err != nil {
		t.Errorf("request id %q is not a UUID: %v", a.RequestID, err)
	}
}

func TestDetect(t *testing.T) {
	d := &fakeDetector{dets: []geometry.Detection{
		det(0, 50, 10, 60, 0.9, geometry.ClassBody),
		det(0, 10, 10, 20, 0.9, geometry.ClassHeading),
		det(0, 10, 10, 20, 0.5, geometry.ClassBody),
	}}
	tr := &fakeTranscriber{}
	p := newTestPipeline(t, d, tr)

	got, err := p.Detect(context.Background(), whiteImage(20, 80))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d regions, want 2", len(got))
	}
	if got[0].Box.Y1 != 10 || got[0].Class != geometry.ClassHeading {
		t.Errorf("first region = %+v", got[0])
	}
	if tr.calls != 0 {
		t.Error("Detect should not transcribe")
	}
}

func TestNew_ModelUnavailable(t *testing.T) {
	_, err := New(context.Background(), &fakeDetector{readyErr: errors.New("connection refused")}, &fakeTranscriber{}, DefaultConfig(), nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}

	_, err = New(context.Background(), &fakeDetector{readyErr: context.DeadlineExceeded}, &fakeTranscriber{}, DefaultConfig(), nil)
	if !errors.Is(err, ErrModelUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrModelUnavailable wrapping the readiness error", err)
	}

	_, err = New(context.Background(), nil, &fakeTranscriber{}, DefaultConfig(), nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("nil detector: err = %v, want ErrModelUnavailable", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"overlap above one", func(c *Config) { c.OverlapThreshold = 1.5 }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"zero quality", func(c *Config) { c.JPEGQuality = 0 }, true},
		{"zero thickness", func(c *Config) { c.BoxThickness = 0 }, true},
		{"custom label", func(c *Config) { c.LabelFormat = "%s (%.0f)" }, false},
		{"label without confidence", func(c *Config) { c.LabelFormat = "Class %s" }, true},
		{"label swapped", func(c *Config) { c.LabelFormat = "%.2f %s" }, true},
		{"label extra verb", func(c *Config) { c.LabelFormat = "%s %.2f %d" }, true},
		{"empty label", func(c *Config) { c.LabelFormat = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{}, &fakeTranscriber{})
	got := p.label(det(0, 0, 1, 1, 0.876, geometry.ClassHeading))
	if got != "Class Prescriptio: 0.88" {
		t.Errorf("label = %q", got)
	}
}
