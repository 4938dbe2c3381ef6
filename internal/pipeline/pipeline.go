package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/rx-transcriber/internal/detection"
	"github.com/ironsheep/rx-transcriber/internal/geometry"
	"github.com/ironsheep/rx-transcriber/internal/imaging"
	"github.com/ironsheep/rx-transcriber/internal/transcribe"
)

// Config holds the orchestration tunables. Detector thresholds live on the
// detector itself.
type Config struct {
	// OverlapThreshold is the IoU at or above which a later region is
	// dropped as a duplicate of an earlier one.
	OverlapThreshold float64

	// Timeout bounds a whole Run call. Zero disables the limit.
	Timeout time.Duration

	// LabelFormat renders the annotation label from the class name and the
	// confidence, in that order.
	LabelFormat string

	// JPEGQuality of the annotated image, 1-100.
	JPEGQuality int

	// Colors maps each class to its box and label colour.
	Colors map[geometry.Class]color.Color

	// BoxThickness is the rectangle stroke width in pixels.
	BoxThickness int
}

// DefaultConfig returns overlap 0.7, a 120s budget, "Class %s: %.2f" labels,
// JPEG quality 95, green headings and blue body text with 2px boxes.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold: 0.7,
		Timeout:          120 * time.Second,
		LabelFormat:      "Class %s: %.2f",
		JPEGQuality:      95,
		Colors: map[geometry.Class]color.Color{
			geometry.ClassHeading: color.NRGBA{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF},
			geometry.ClassBody:    color.NRGBA{R: 0x00, G: 0x00, B: 0xFF, A: 0xFF},
		},
		BoxThickness: 2,
	}
}

// Validate checks that every tunable is in range.
func (c Config) Validate() error {
	if c.OverlapThreshold < 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("overlap threshold %v outside [0, 1]", c.OverlapThreshold)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG quality %d outside 1-100", c.JPEGQuality)
	}
	if c.BoxThickness < 1 {
		return fmt.Errorf("box thickness must be at least 1")
	}
	return CheckLabelFormat(c.LabelFormat)
}

// CheckLabelFormat verifies that format takes a class name followed by a
// floating point confidence.
func CheckLabelFormat(format string) error {
	if format == "" {
		return fmt.Errorf("label format is empty")
	}
	if out := fmt.Sprintf(format, "x", 0.5); strings.Contains(out, "%!") {
		return fmt.Errorf("label format %q must take a class name then a confidence: got %q", format, out)
	}
	return nil
}

// Segment is the transcription of one region.
type Segment struct {
	Text      string             `json:"text"`
	Detection geometry.Detection `json:"detection"`
}

// Result is the outcome of one Run call.
type Result struct {
	RequestID string `json:"request_id"`

	// Transcript is every segment's text joined by newlines, top to bottom.
	Transcript string    `json:"transcript"`
	Segments   []Segment `json:"segments"`

	// AnnotatedImage is the base64 (standard alphabet) encoded JPEG.
	AnnotatedImage string `json:"annotated_image"`
	MimeType       string `json:"mime_type"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`

	// Skipped lists regions that could not be cropped.
	Skipped []geometry.Detection `json:"skipped,omitempty"`
}

// Pipeline runs detection and transcription against injected models. It is
// safe for concurrent use if its Detector and Transcriber are.
type Pipeline struct {
	det detection.Detector
	tr  transcribe.Transcriber
	cfg Config
	log logrus.FieldLogger
}

type readier interface {
	Ready(ctx context.Context) error
}

// New validates cfg and checks that det and tr are ready. A collaborator
// that implements Ready(ctx) error and fails it yields an error wrapping both
// ErrModelUnavailable and the Ready error.
// A nil logger discards output.
func New(ctx context.Context, det detection.Detector, tr transcribe.Transcriber, cfg Config, logger logrus.FieldLogger) (*Pipeline, error) {
	if det == nil || tr == nil {
		return nil, fmt.Errorf("%w: detector and transcriber are required", ErrModelUnavailable)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	models := []struct {
		name string
		impl interface{}
	}{
		{"detector", det},
		{"transcriber", tr},
	}
	for _, m := range models {
		r, ok := m.impl.(readier)
		if !ok {
			continue
		}
		if err := r.Ready(ctx); err != nil {
			logger.WithError(err).WithField("model", m.name).Error("Model not ready")
			return nil, fmt.Errorf("%w: %s: %w", ErrModelUnavailable, m.name, err)
		}
	}

	return &Pipeline{det: det, tr: tr, cfg: cfg, log: logger}, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, p.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Detect returns the ordered, deduplicated regions for img without
// transcribing them.
func (p *Pipeline) Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	ctx, cancel := p.withBudget(ctx)
	defer cancel()
	return p.regions(ctx, img, p.log)
}

func (p *Pipeline) regions(ctx context.Context, img image.Image, log logrus.FieldLogger) ([]geometry.Detection, error) {
	start := time.Now()
	raw, err := p.det.Detect(ctx, img)
	if err != nil {
		return nil, &InferenceError{Stage: StageDetect, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Stage: StageDetect, Err: err}
	}

	kept := geometry.Deduplicate(geometry.SortByTop(raw), p.cfg.OverlapThreshold)
	log.WithFields(logrus.Fields{
		"raw":         len(raw),
		"kept":        len(kept),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Regions detected")
	return kept, nil
}

// Run detects, transcribes and annotates img. img is only read.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	reqID := uuid.NewString()
	log := p.log.WithField("request_id", reqID)
	start := time.Now()

	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	regions, err := p.regions(ctx, img, log)
	if err != nil {
		log.WithError(err).Error("Detection failed")
		return nil, err
	}

	canvas := imaging.NewCanvas(img)
	segments := make([]Segment, 0, len(regions))
	texts := make([]string, 0, len(regions))
	var skipped []geometry.Detection

	for i, d := range regions {
		rlog := log.WithFields(logrus.Fields{
			"region":     i,
			"box":        d.Box.String(),
			"class":      d.Class.String(),
			"confidence": d.Confidence,
		})
		if err := ctx.Err(); err != nil {
			return nil, &InferenceError{Stage: StageTranscribe, Err: err}
		}

		rect := d.Box.Rect()
		crop, err := imaging.CropRect(img, rect)
		if errors.Is(err, ErrInvalidCrop) {
			rlog.Warn("Skipping region with empty crop")
			skipped = append(skipped, d)
			continue
		}
		if err != nil {
			return nil, &InferenceError{Stage: StageCrop, Err: fmt.Errorf("region %d: %w", i, err)}
		}

		text, err := p.tr.Transcribe(ctx, crop)
		if err != nil {
			rlog.WithError(err).Error("Transcription failed")
			return nil, &InferenceError{Stage: StageTranscribe, Err: fmt.Errorf("region %d: %w", i, err)}
		}
		text = transcribe.StripArtifacts(text)
		rlog.WithField("chars", len(text)).Debug("Region transcribed")

		segments = append(segments, Segment{Text: text, Detection: d})
		texts = append(texts, text)

		col := p.colorFor(d.Class)
		canvas.DrawBox(rect, col, p.cfg.BoxThickness)
		canvas.DrawLabel(rect, p.label(d), col)
	}

	annotated := canvas.Image()
	encoded, err := imaging.EncodeJPEGBase64(annotated, p.cfg.JPEGQuality)
	if err != nil {
		return nil, &InferenceError{Stage: StageEncode, Err: err}
	}

	log.WithFields(logrus.Fields{
		"segments":    len(segments),
		"skipped":     len(skipped),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Prescription transcribed")

	return &Result{
		RequestID:      reqID,
		Transcript:     strings.Join(texts, "\n"),
		Segments:       segments,
		AnnotatedImage: encoded,
		MimeType:       imaging.JPEGMimeType,
		Width:          annotated.Bounds().Dx(),
		Height:         annotated.Bounds().Dy(),
		Skipped:        skipped,
	}, nil
}

func (p *Pipeline) label(d geometry.Detection) string {
	return fmt.Sprintf(p.cfg.LabelFormat, d.Class.String(), d.Confidence)
}

func (p *Pipeline) colorFor(c geometry.Class) color.Color {
	if col, ok := p.cfg.Colors[c]; ok && col != nil {
		return col
	}
	return color.NRGBA{R: 0xFF, A: 0xFF}
}
