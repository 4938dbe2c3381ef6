package detection

import (
	"context"
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"

	"github.com/ironsheep/rx-transcriber/internal/geometry"
)

// Window is a sliding window size in pixels.
type Window struct {
	W, H int
}

// DefaultWindows roughly cover one line of handwriting at phone resolutions.
var DefaultWindows = []Window{
	{100, 30}, // Small writing
	{150, 40}, // Medium writing
	{200, 50}, // Large writing
	{80, 25},  // Very small writing
}

// EdgeDensity is a model-free Detector that treats windows with moderate,
// mostly horizontal edge structure as text.
type EdgeDensity struct {
	opts Options

	// EdgeLevel is the Sobel magnitude (0-255) above which a pixel counts
	// as an edge.
	EdgeLevel uint8

	// BlurRadius smooths paper texture before edge extraction.
	BlurRadius float64

	Windows []Window
}

// NewEdgeDensity creates the heuristic detector with default tuning.
func NewEdgeDensity(opts Options) *EdgeDensity {
	return &EdgeDensity{
		opts:       opts,
		EdgeLevel:  64,
		BlurRadius: 1.0,
		Windows:    DefaultWindows,
	}
}

// Detect scores every window position and returns the survivors of
// confidence filtering and non-max suppression. The topmost survivor is
// labelled ClassHeading, the rest ClassBody.
func (d *EdgeDensity) Detect(ctx context.Context, img image.Image) ([]geometry.Detection, error) {
	bounds := img.Bounds()
	edges := d.edgeMap(img)
	height := len(edges)
	if height == 0 {
		return nil, nil
	}
	width := len(edges[0])
	integral := integralImage(edges, width, height)

	candidates := make([]geometry.Detection, 0)
	for _, ws := range d.Windows {
		if ws.W <= 0 || ws.H <= 0 {
			continue
		}
		stepX := maxInt(ws.W/2, 1)
		stepY := maxInt(ws.H/2, 1)

		for y := 0; y <= height-ws.H; y += stepY {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for x := 0; x <= width-ws.W; x += stepX {
				edgeCount := windowSum(integral, x, y, ws.W, ws.H)
				density := float64(edgeCount) / float64(ws.W*ws.H)

				// Writing has medium edge density: not blank paper, not texture
				if density < 0.05 || density > 0.4 {
					continue
				}

				horizontal := horizontalScore(edges, x, y, ws.W, ws.H)
				confidence := horizontal * (1.0 - math.Abs(density-0.2)/0.2)
				if confidence < d.opts.Confidence {
					continue
				}

				candidates = append(candidates, geometry.Detection{
					Box: geometry.Box{
						X1: float64(x + bounds.Min.X),
						Y1: float64(y + bounds.Min.Y),
						X2: float64(x + ws.W + bounds.Min.X),
						Y2: float64(y + ws.H + bounds.Min.Y),
					},
					Confidence: math.Round(confidence*1000) / 1000,
					Class:      geometry.ClassBody,
				})
			}
		}
	}

	kept := geometry.SuppressNonMax(candidates, d.opts.IoU, d.opts.Agnostic)
	if len(kept) > 0 {
		top := 0
		for i := range kept {
			if kept[i].Box.Y1 < kept[top].Box.Y1 {
				top = i
			}
		}
		kept[top].Class = geometry.ClassHeading
	}
	return kept, nil
}

// edgeMap returns edges[y][x] for img, with (0,0) at img.Bounds().Min.
func (d *EdgeDensity) edgeMap(img image.Image) [][]bool {
	src := imaging.Clone(img)
	gray := effect.Grayscale(src)
	var smoothed image.Image = gray
	if d.BlurRadius > 0 {
		smoothed = blur.Gaussian(gray, d.BlurRadius)
	}
	mask := segment.Threshold(effect.Sobel(smoothed), d.EdgeLevel)

	mb := mask.Bounds()
	width := minInt(mb.Dx(), src.Bounds().Dx())
	height := minInt(mb.Dy(), src.Bounds().Dy())

	edges := make([][]bool, height)
	for y := 0; y < height; y++ {
		edges[y] = make([]bool, width)
		for x := 0; x < width; x++ {
			edges[y][x] = mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y != 0
		}
	}
	return edges
}

// integralImage returns the summed-area table of edges, one row and column
// larger than the input.
func integralImage(edges [][]bool, width, height int) [][]int {
	sum := make([][]int, height+1)
	for y := range sum {
		sum[y] = make([]int, width+1)
	}
	for y := 0; y < height; y++ {
		rowTotal := 0
		for x := 0; x < width; x++ {
			if edges[y][x] {
				rowTotal++
			}
			sum[y+1][x+1] = sum[y][x+1] + rowTotal
		}
	}
	return sum
}

func windowSum(sum [][]int, x, y, w, h int) int {
	return sum[y+h][x+w] - sum[y][x+w] - sum[y+h][x] + sum[y][x]
}

// horizontalScore is the share of edge runs that are horizontal. Lines of
// writing produce more horizontal than vertical runs.
func horizontalScore(edges [][]bool, x, y, w, h int) float64 {
	horizontalRuns := 0
	verticalRuns := 0

	for row := y; row < y+h; row++ {
		inRun := false
		for col := x; col < x+w; col++ {
			if edges[row][col] {
				if !inRun {
					horizontalRuns++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	for col := x; col < x+w; col++ {
		inRun := false
		for row := y; row < y+h; row++ {
			if edges[row][col] {
				if !inRun {
					verticalRuns++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	if horizontalRuns+verticalRuns == 0 {
		return 0
	}
	return float64(horizontalRuns) / float64(horizontalRuns+verticalRuns)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
