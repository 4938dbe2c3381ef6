package transcribe

import (
	"context"
	"image"
	"strings"
	"sync"
)

// Transcriber recognizes the handwriting in a single cropped region.
type Transcriber interface {
	Transcribe(ctx context.Context, img image.Image) (string, error)
}

// artifactSuffixes are file extensions a recognition model may append to its
// output.
var artifactSuffixes = []string{".jpeg", ".jpg", ".png", ".bmp", ".tiff", ".tif", ".webp"}

// StripArtifacts folds text onto a single line, collapsing runs of
// whitespace (newlines included) to one space, and removes trailing image
// file extensions, case-insensitively, until none is left.
func StripArtifacts(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for {
		stripped := false
		for _, suffix := range artifactSuffixes {
			n := len(text) - len(suffix)
			if n >= 0 && strings.EqualFold(text[n:], suffix) {
				text = strings.TrimSpace(text[:n])
				stripped = true
				break
			}
		}
		if !stripped {
			return text
		}
	}
}

type readier interface {
	Ready(ctx context.Context) error
}

type serialized struct {
	mu    sync.Mutex
	inner Transcriber
}

// Serialized returns a Transcriber that holds a lock around every call to t.
// Ready is forwarded when t supports it.
func Serialized(t Transcriber) Transcriber {
	return &serialized{inner: t}
}

func (s *serialized) Transcribe(ctx context.Context, img image.Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.inner.Transcribe(ctx, img)
}

func (s *serialized) Ready(ctx context.Context) error {
	if r, ok := s.inner.(readier); ok {
		return r.Ready(ctx)
	}
	return nil
}
