package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/rx-transcriber/internal/config"
	"github.com/ironsheep/rx-transcriber/internal/detection"
	"github.com/ironsheep/rx-transcriber/internal/imaging"
	"github.com/ironsheep/rx-transcriber/internal/pipeline"
	"github.com/ironsheep/rx-transcriber/internal/server"
	"github.com/ironsheep/rx-transcriber/internal/transcribe"
	"github.com/ironsheep/rx-transcriber/internal/transcribe/tesseract"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func usage() {
	fmt.Println("rx-transcriber - transcribe handwritten prescription photos")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rx-transcriber [--config file]                       Run the MCP server on stdin/stdout")
	fmt.Println("  rx-transcriber [--config file] transcribe [--annotated out.jpg] <image>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println("  --config         YAML configuration file (default $RXOCR_CONFIG)")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  RXOCR_LOG_LEVEL=debug              Enable debug logging")
	fmt.Println("  RXOCR_DETECTOR_BACKEND=remote|edge")
	fmt.Println("  RXOCR_DETECTOR_URL=http://...      Region detection service")
	fmt.Println("  RXOCR_TRANSCRIBER_BACKEND=tesseract|remote")
	fmt.Println("  RXOCR_TRANSCRIBER_URL=http://...   Text recognition service")
	fmt.Println("  RXOCR_TESSERACT_LANG=eng           Tesseract language(s)")
	fmt.Println()
	fmt.Println("Logs go to stderr; stdout carries the MCP protocol.")
}

func main() {
	// Handle --version and --help flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("rx-transcriber %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		}
	}

	fs := flag.NewFlagSet("rx-transcriber", flag.ExitOnError)
	fs.Usage = usage
	configPath := fs.String("config", os.Getenv("RXOCR_CONFIG"), "YAML configuration file")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rx-transcriber: %v\n", err)
		os.Exit(2)
	}

	log := newLogger(cfg.LogLevel, os.Stderr)
	log.WithFields(logrus.Fields{
		"version":     Version,
		"commit":      GitCommit,
		"detector":    cfg.Detector.Backend,
		"transcriber": cfg.Transcriber.Backend,
	}).Debug("Starting rx-transcriber")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, closeModels, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Models unavailable")
	}
	defer closeModels()

	args := fs.Args()
	if len(args) > 0 && args[0] == "transcribe" {
		if err := transcribeOnce(ctx, p, args[1:], os.Stdout); err != nil {
			log.WithError(err).Error("Transcription failed")
			closeModels()
			os.Exit(1)
		}
		return
	}
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "rx-transcriber: unknown command %q\n", args[0])
		os.Exit(2)
	}

	srv := server.New(p, log, Version)
	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("Server error")
	}
}

func newLogger(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// buildPipeline constructs both models once and checks they are ready. The
// returned func releases whatever the models hold.
func buildPipeline(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*pipeline.Pipeline, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	var det detection.Detector
	switch cfg.Detector.Backend {
	case config.BackendEdge:
		det = detection.NewEdgeDensity(cfg.DetectorOptions())
	default:
		// One model instance behind the service; send it one photo at a time
		det = detection.Serialized(detection.NewRemote(cfg.Detector.URL, cfg.DetectorOptions(), cfg.HTTPTimeout))
	}

	var tr transcribe.Transcriber
	switch cfg.Transcriber.Backend {
	case config.BackendRemote:
		tr = transcribe.Serialized(transcribe.NewRemote(cfg.Transcriber.URL, cfg.HTTPTimeout))
	default:
		opts := tesseract.DefaultOptions()
		opts.Language = cfg.Transcriber.Language
		opts.TessdataPrefix = cfg.Transcriber.TessdataPrefix
		opts.PSM = cfg.Transcriber.PSM
		opts.MinHeight = cfg.Transcriber.MinHeight
		engine, err := tesseract.New(opts)
		if err != nil {
			return nil, closeAll, fmt.Errorf("%w: %v", pipeline.ErrModelUnavailable, err)
		}
		closers = append(closers, func() { engine.Close() })
		log.WithField("tesseract", engine.Version()).Debug("Tesseract loaded")
		tr = engine
	}

	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		closeAll()
		return nil, closeAll, err
	}

	readyCtx := ctx
	if cfg.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, cfg.HTTPTimeout)
		defer cancel()
	}
	p, err := pipeline.New(readyCtx, det, tr, pcfg, log)
	if err != nil {
		closeAll()
		return nil, closeAll, err
	}
	return p, closeAll, nil
}

// onceResult is printed by the transcribe command.
type onceResult struct {
	RequestID  string             `json:"request_id"`
	Transcript string             `json:"transcript"`
	Segments   []pipeline.Segment `json:"segments"`
	Skipped    int                `json:"skipped"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Annotated  string             `json:"annotated,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

func transcribeOnce(ctx context.Context, p *pipeline.Pipeline, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	annotated := fs.String("annotated", "", "write the annotated JPEG to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: rx-transcriber transcribe [--annotated out.jpg] <image>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	img, err := imaging.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := p.Run(ctx, img)
	if err != nil {
		return err
	}

	summary := onceResult{
		RequestID:  res.RequestID,
		Transcript: res.Transcript,
		Segments:   res.Segments,
		Skipped:    len(res.Skipped),
		Width:      res.Width,
		Height:     res.Height,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if *annotated != "" {
		data, err := base64.StdEncoding.DecodeString(res.AnnotatedImage)
		if err != nil {
			return fmt.Errorf("failed to decode annotated image: %w", err)
		}
		if err := os.WriteFile(*annotated, data, 0644); err != nil {
			return fmt.Errorf("failed to write annotated image: %w", err)
		}
		summary.Annotated = *annotated
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
