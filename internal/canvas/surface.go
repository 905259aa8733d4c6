package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/example/face-overlay/internal/geometry"
)

// Surface is the preview pixel buffer. All drawing goes through Paint, which
// holds the surface lock for the whole callback so that a fade tick, a
// detection redraw and a preview reset never interleave.
type Surface struct {
	mu      sync.Mutex
	img     *image.RGBA
	opacity float64
}

// New returns a transparent surface of the given size.
func New(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height)), opacity: 1}
}

// NewPreview scales src into a width x height surface.
func NewPreview(src image.Image, width, height int) *Surface {
	s := New(width, height)
	scaled := src
	if b := src.Bounds(); b.Dx() != width || b.Dy() != height {
		scaled = resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
	}
	draw.Draw(s.img, s.img.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	return s
}

// Bounds returns the surface rectangle.
func (s *Surface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Paint runs fn with exclusive access to the surface.
func (s *Surface) Paint(fn func(p *Painter)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Painter{s: s, dc: gg.NewContextForRGBA(s.img)})
}

// Snapshot copies the current pixels.
func (s *Surface) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return takeSnapshot(s.img)
}

// Image returns a copy of the current pixels.
func (s *Surface) Image() *image.RGBA {
	return s.Snapshot().img
}

// EncodePNG writes the current pixels as PNG.
func (s *Surface) EncodePNG(w io.Writer) error {
	return png.Encode(w, s.Image())
}

// Snapshot is an immutable copy of a surface's pixels.
type Snapshot struct {
	img *image.RGBA
}

func takeSnapshot(src *image.RGBA) Snapshot {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return Snapshot{img: dst}
}

// Matches reports whether img holds exactly the snapshot's pixels.
func (sn Snapshot) Matches(img *image.RGBA) bool {
	if sn.img == nil || img == nil {
		return sn.img == img
	}
	return sn.img.Bounds() == img.Bounds() && bytes.Equal(sn.img.Pix, img.Pix)
}

// Painter draws on a locked surface. It must not escape the Paint callback.
type Painter struct {
	s  *Surface
	dc *gg.Context
}

// Bounds returns the surface rectangle.
func (p *Painter) Bounds() image.Rectangle {
	return p.s.img.Bounds()
}

// Snapshot copies the current pixels.
func (p *Painter) Snapshot() Snapshot {
	return takeSnapshot(p.s.img)
}

// Restore replaces the pixels with sn. Snapshots of a different size are
// ignored, since they belong to a replaced preview.
func (p *Painter) Restore(sn Snapshot) bool {
	if sn.img == nil || sn.img.Bounds() != p.s.img.Bounds() {
		return false
	}
	draw.Draw(p.s.img, p.s.img.Bounds(), sn.img, sn.img.Bounds().Min, draw.Src)
	return true
}

// SetOpacity sets the global paint opacity used by DrawImage, clamped to [0, 1].
func (p *Painter) SetOpacity(v float64) {
	p.s.opacity = math.Max(0, math.Min(1, v))
}

// Opacity returns the global paint opacity.
func (p *Painter) Opacity() float64 {
	return p.s.opacity
}

// DrawImage composites src over r at the global opacity. src is expected to
// be r-sized already; it is anchored at its own bounds origin.
func (p *Painter) DrawImage(src image.Image, r image.Rectangle) {
	if p.s.opacity >= 1 {
		draw.Draw(p.s.img, r, src, src.Bounds().Min, draw.Over)
		return
	}
	if p.s.opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha16{A: uint16(math.Round(p.s.opacity * 0xffff))})
	draw.DrawMask(p.s.img, r, src, src.Bounds().Min, mask, image.Point{}, draw.Over)
}

// StrokeRect outlines r.
func (p *Painter) StrokeRect(r geometry.Rect, width float64, c color.Color) {
	p.dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
	p.dc.SetLineWidth(width)
	p.dc.SetColor(c)
	p.dc.Stroke()
}

// FillCircle draws a filled dot.
func (p *Painter) FillCircle(center geometry.Point, radius float64, c color.Color) {
	p.dc.DrawCircle(center.X, center.Y, radius)
	p.dc.SetColor(c)
	p.dc.Fill()
}

// Text draws s with its baseline at the given point.
func (p *Painter) Text(s string, baseline geometry.Point, c color.Color) {
	p.dc.SetFontFace(basicfont.Face7x13)
	p.dc.SetColor(c)
	p.dc.DrawString(s, baseline.X, baseline.Y)
}
