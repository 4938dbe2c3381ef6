package detection

import (
	"context"
	"image"
	"sync"

	"github.com/ironsheep/rx-transcriber/internal/geometry"
)

// Detector finds candidate text regions in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error)
}

// Options are the thresholds a detector applies before returning.
type Options struct {
	// Confidence is the minimum score a detection needs to be returned.
	Confidence float64

	// IoU is the overlap above which the detector's own non-max suppression
	// drops the lower scoring box.
	IoU float64

	// Agnostic lets boxes of different classes suppress each other.
	Agnostic bool
}

// DefaultOptions returns confidence 0.25, IoU 0.45, class-agnostic.
func DefaultOptions() Options {
	return Options{
		Confidence: 0.25,
		IoU:        0.45,
		Agnostic:   true,
	}
}

type readier interface {
	Ready(ctx context.Context) error
}

type serialized struct {
	mu    sync.Mutex
	inner Detector
}

// Serialized returns a Detector that forwards to d while holding a lock, so
// concurrent callers take turns. Ready is forwarded without the lock when d
// supports it.
func Serialized(d Detector) Detector {
	return &serialized{inner: d}
}

func (s *serialized) Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Detect(ctx, img)
}

func (s *serialized) Ready(ctx context.Context) error {
	if r, ok := s.inner.(readier); ok {
		return r.Ready(ctx)
	}
	return nil
}
