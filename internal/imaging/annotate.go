package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelPadding = 2

// Canvas is a private, drawable copy of a source image.
//
// Coordinates passed to Canvas methods are in the source image's coordinate
// space, even when the source bounds do not start at (0,0).
//
// # Two Buffers
//
// Drawing happens on the clone only. Crops handed to a recogniser must be
// taken from the source so that boxes and labels drawn for earlier regions
// never leak into later ones:
//
//	canvas := imaging.NewCanvas(photo)
//	crop, err := imaging.CropRect(photo, rect) // pristine pixels
//	...
//	canvas.DrawBox(rect, green, 2)
//	annotated := canvas.Image()
type Canvas struct {
	img    *image.NRGBA
	origin image.Point
	face   font.Face
}

// NewCanvas clones src. src itself is never modified by the canvas.
func NewCanvas(src image.Image) *Canvas {
	return &Canvas{
		img:    imaging.Clone(src),
		origin: src.Bounds().Min,
		face:   basicfont.Face7x13,
	}
}

// Image returns the annotated pixels. Bounds start at (0,0).
func (c *Canvas) Image() *image.NRGBA {
	return c.img
}

// DrawBox outlines r with a border thickness pixels wide, drawn inward from
// the edges of r. Parts of the outline outside the canvas are clipped.
func (c *Canvas) DrawBox(r image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r = r.Canon().Sub(c.origin)
	if r.Empty() {
		return
	}

	bands := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), // top
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), // left
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	src := image.NewUniform(col)
	for _, band := range bands {
		band = band.Intersect(c.img.Bounds())
		if band.Empty() {
			continue
		}
		draw.Draw(c.img, band, src, image.Point{}, draw.Src)
	}
}

// DrawLabel writes text on a filled tag anchored to the top-left corner of r.
// The tag sits just above r when there is room, otherwise just inside it.
// The text colour is black or white, whichever reads better on bg.
func (c *Canvas) DrawLabel(r image.Rectangle, text string, bg color.Color) {
	r = r.Canon().Sub(c.origin)
	bounds := c.img.Bounds()

	metrics := c.face.Metrics()
	textW := font.MeasureString(c.face, text).Ceil()
	textH := metrics.Height.Ceil()
	tagW := textW + 2*labelPadding
	tagH := textH + 2*labelPadding

	left := r.Min.X
	if left < bounds.Min.X {
		left = bounds.Min.X
	}
	top := r.Min.Y - tagH
	if top < bounds.Min.Y {
		top = r.Min.Y
		if top < bounds.Min.Y {
			top = bounds.Min.Y
		}
	}

	tag := image.Rect(left, top, left+tagW, top+tagH).Intersect(bounds)
	if tag.Empty() {
		return
	}
	draw.Draw(c.img, tag, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(contrastingText(bg)),
		Face: c.face,
		Dot:  fixed.P(left+labelPadding, top+labelPadding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}

// contrastingText picks black for light backgrounds and white for dark ones
// using CIE L*.
func contrastingText(bg color.Color) color.Color {
	cf, ok := colorful.MakeColor(bg)
	if !ok {
		return color.White
	}
	l, _, _ := cf.Lab()
	if l > 0.6 {
		return color.Black
	}
	return color.White
}

// ParseColor parses "#RRGGBB", "RRGGBB" or the short "#RGB" form.
func ParseColor(hex string) (color.NRGBA, error) {
	s := strings.TrimSpace(hex)
	if s == "" {
		return color.NRGBA{}, fmt.Errorf("empty color string")
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) != 4 && len(s) != 7 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: want #RGB or #RRGGBB", hex)
	}
	cf, err := colorful.Hex(s)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := cf.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
