// Package config loads runtime settings from defaults, an optional YAML file
// and RXOCR_* environment variables, in that order of precedence (lowest
// first).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/rx-transcriber/internal/detection"
	"github.com/ironsheep/rx-transcriber/internal/geometry"
	"github.com/ironsheep/rx-transcriber/internal/imaging"
	"github.com/ironsheep/rx-transcriber/internal/pipeline"
)

// Backend names.
const (
	BackendRemote    = "remote"
	BackendEdge      = "edge"
	BackendTesseract = "tesseract"
)

// Config is the full runtime configuration.
type Config struct {
	Detector    DetectorConfig    `yaml:"detector"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`

	// HTTPTimeout bounds each request to a remote model service.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	LogLevel string `yaml:"log_level"`
}

type DetectorConfig struct {
	Backend    string  `yaml:"backend"` // "remote" or "edge"
	URL        string  `yaml:"url"`
	Confidence float64 `yaml:"confidence"`
	IoU        float64 `yaml:"iou"`
	Agnostic   bool    `yaml:"agnostic"`
}

type TranscriberConfig struct {
	Backend        string `yaml:"backend"` // "remote" or "tesseract"
	URL            string `yaml:"url"`
	Language       string `yaml:"language"`
	TessdataPrefix string `yaml:"tessdata_prefix"`
	PSM            int    `yaml:"psm"`
	MinHeight      int    `yaml:"min_height"`
}

type PipelineConfig struct {
	OverlapThreshold float64       `yaml:"overlap_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	LabelFormat      string        `yaml:"label_format"`
	JPEGQuality      int           `yaml:"jpeg_quality"`
	HeadingColor     string        `yaml:"heading_color"`
	BodyColor        string        `yaml:"body_color"`
	BoxThickness     int           `yaml:"box_thickness"`
}

// Default returns the built-in configuration: remote detector at
// localhost:8001, tesseract transcriber (English, single-block segmentation),
// and the standard thresholds.
func Default() *Config {
	det := detection.DefaultOptions()
	pipe := pipeline.DefaultConfig()
	return &Config{
		Detector: DetectorConfig{
			Backend:    BackendRemote,
			URL:        "http://localhost:8001",
			Confidence: det.Confidence,
			IoU:        det.IoU,
			Agnostic:   det.Agnostic,
		},
		Transcriber: TranscriberConfig{
			Backend:   BackendTesseract,
			URL:       "http://localhost:8002",
			Language:  "eng",
			PSM:       6,
			MinHeight: 64,
		},
		Pipeline: PipelineConfig{
			OverlapThreshold: pipe.OverlapThreshold,
			Timeout:          pipe.Timeout,
			LabelFormat:      pipe.LabelFormat,
			JPEGQuality:      pipe.JPEGQuality,
			HeadingColor:     "#00FF00",
			BodyColor:        "#0000FF",
			BoxThickness:     pipe.BoxThickness,
		},
		HTTPTimeout: 60 * time.Second,
		LogLevel:    "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from RXOCR_* variables read through getenv.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var firstErr error
	fail := func(key, v string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = d
		}
	}

	str("RXOCR_DETECTOR_BACKEND", &c.Detector.Backend)
	str("RXOCR_DETECTOR_URL", &c.Detector.URL)
	float("RXOCR_DETECTOR_CONFIDENCE", &c.Detector.Confidence)
	float("RXOCR_DETECTOR_IOU", &c.Detector.IoU)
	boolean("RXOCR_DETECTOR_AGNOSTIC", &c.Detector.Agnostic)

	str("RXOCR_TRANSCRIBER_BACKEND", &c.Transcriber.Backend)
	str("RXOCR_TRANSCRIBER_URL", &c.Transcriber.URL)
	str("RXOCR_TESSERACT_LANG", &c.Transcriber.Language)
	str("RXOCR_TESSDATA_PREFIX", &c.Transcriber.TessdataPrefix)
	integer("RXOCR_TESSERACT_PSM", &c.Transcriber.PSM)

	float("RXOCR_OVERLAP_THRESHOLD", &c.Pipeline.OverlapThreshold)
	duration("RXOCR_TIMEOUT", &c.Pipeline.Timeout)
	str("RXOCR_LABEL_FORMAT", &c.Pipeline.LabelFormat)
	integer("RXOCR_JPEG_QUALITY", &c.Pipeline.JPEGQuality)
	str("RXOCR_HEADING_COLOR", &c.Pipeline.HeadingColor)
	str("RXOCR_BODY_COLOR", &c.Pipeline.BodyColor)

	duration("RXOCR_HTTP_TIMEOUT", &c.HTTPTimeout)
	str("RXOCR_LOG_LEVEL", &c.LogLevel)

	return firstErr
}

// Validate checks ranges, backend names, colours and the label format.
func (c *Config) Validate() error {
	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return fmt.Errorf("detector confidence %v outside [0, 1]", c.Detector.Confidence)
	}
	if c.Detector.IoU < 0 || c.Detector.IoU > 1 {
		return fmt.Errorf("detector IoU %v outside [0, 1]", c.Detector.IoU)
	}
	switch c.Detector.Backend {
	case BackendRemote:
		if c.Detector.URL == "" {
			return fmt.Errorf("detector URL is required for the remote backend")
		}
	case BackendEdge:
	default:
		return fmt.Errorf("unknown detector backend %q", c.Detector.Backend)
	}
	switch c.Transcriber.Backend {
	case BackendRemote:
		if c.Transcriber.URL == "" {
			return fmt.Errorf("transcriber URL is required for the remote backend")
		}
	case BackendTesseract:
		if c.Transcriber.Language == "" {
			return fmt.Errorf("tesseract language is required")
		}
	default:
		return fmt.Errorf("unknown transcriber backend %q", c.Transcriber.Backend)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http timeout must not be negative")
	}
	if _, err := c.PipelineConfig(); err != nil {
		return err
	}
	return nil
}

// DetectorOptions returns the thresholds handed to the detector backend.
func (c *Config) DetectorOptions() detection.Options {
	return detection.Options{
		Confidence: c.Detector.Confidence,
		IoU:        c.Detector.IoU,
		Agnostic:   c.Detector.Agnostic,
	}
}

// PipelineConfig parses the colours and returns a validated pipeline.Config.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	heading, err := imaging.ParseColor(c.Pipeline.HeadingColor)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("heading colour: %w", err)
	}
	body, err := imaging.ParseColor(c.Pipeline.BodyColor)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("body colour: %w", err)
	}
	pc := pipeline.Config{
		OverlapThreshold: c.Pipeline.OverlapThreshold,
		Timeout:          c.Pipeline.Timeout,
		LabelFormat:      c.Pipeline.LabelFormat,
		JPEGQuality:      c.Pipeline.JPEGQuality,
		Colors: map[geometry.Class]color.Color{
			geometry.ClassHeading: heading,
			geometry.ClassBody:    body,
		},
		BoxThickness: c.Pipeline.BoxThickness,
	}
	if err := pc.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return pc, nil
}
