// Package tesseract runs Tesseract in-process as a region transcriber.
//
// One gosseract client is created per Engine and reused for every crop. The
// client is not safe for concurrent use, so Engine serializes calls itself.
// Tesseract and its language data must be installed on the host.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/rx-transcriber/internal/imaging"
	"github.com/ironsheep/rx-transcriber/internal/transcribe"
)

// Options configures the Tesseract client.
type Options struct {
	// Language is one or more Tesseract language codes joined by "+",
	// e.g. "eng" or "eng+lat".
	Language string

	// TessdataPrefix overrides the directory holding *.traineddata files.
	// Empty uses Tesseract's compiled-in default.
	TessdataPrefix string

	// PSM is the page segmentation mode. Crops hold one line or a short
	// block of handwriting, so the default is 6 (single uniform block).
	PSM int

	// MinHeight upscales shorter crops before recognition. Tesseract does
	// poorly on glyphs under ~20px tall.
	MinHeight int

	// DPI is passed as user_defined_dpi so Tesseract skips its own guess.
	DPI int
}

// DefaultOptions returns English, single-block segmentation, 64px minimum
// crop height and 300 DPI.
func DefaultOptions() Options {
	return Options{
		Language:  "eng",
		PSM:       int(gosseract.PSM_SINGLE_BLOCK),
		MinHeight: 64,
		DPI:       300,
	}
}

// Engine is a transcribe.Transcriber backed by a single gosseract client.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	opts   Options
}

// New creates the client and applies opts. Language data is only loaded on
// the first recognition; call Ready to surface a broken install early.
func New(opts Options) (*Engine, error) {
	client := gosseract.NewClient()

	if opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if opts.Language != "" {
		if err := client.SetLanguage(splitLanguages(opts.Language)...); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set language: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PSM)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if opts.DPI > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(opts.DPI)); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}

	return &Engine{client: client, opts: opts}, nil
}

// Transcribe recognizes the text in img.
func (e *Engine) Transcribe(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.opts.MinHeight > 0 {
		img = imaging.Upscale(img, e.opts.MinHeight)
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return transcribe.StripArtifacts(text), nil
}

// Ready runs a recognition on a blank tile, which forces Tesseract to load
// its language data.
func (e *Engine) Ready(ctx context.Context) error {
	tile := image.NewGray(image.Rect(0, 0, 32, 32))
	draw.Draw(tile, tile.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if _, err := e.Transcribe(ctx, tile); err != nil {
		return fmt.Errorf("tesseract not usable (language %q): %w", e.opts.Language, err)
	}
	return nil
}

// Version reports the linked Tesseract version.
func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Version()
}

// Close releases the underlying client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}

func splitLanguages(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '+' })
}
