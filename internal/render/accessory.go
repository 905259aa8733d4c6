package render

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // accessory assets may be JPEG
	_ "image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/example/face-overlay/internal/canvas"
	"github.com/example/face-overlay/internal/faceapi"
	"github.com/example/face-overlay/internal/geometry"
)

// Accessory renders itself into a width x height image with a transparent
// background.
type Accessory interface {
	Render(width, height int) image.Image
}

// Sunglasses is the built-in accessory: two tinted lenses joined by a bridge.
type Sunglasses struct {
	Lens  color.Color
	Frame color.Color
}

// DefaultSunglasses is used when no accessory asset is configured.
var DefaultSunglasses = Sunglasses{
	Lens:  color.RGBA{R: 0x14, G: 0x14, B: 0x1e, A: 0xe6},
	Frame: color.RGBA{A: 0xff},
}

// Render draws the sunglasses.
func (s Sunglasses) Render(width, height int) image.Image {
	dc := gg.NewContext(width, height)
	w, h := float64(width), float64(height)
	line := math.Max(1, h*0.08)
	lensW, lensH := w*0.4, h-2*line
	radius := lensH * 0.35

	for _, cx := range []float64{w * 0.25, w * 0.75} {
		dc.DrawRoundedRectangle(cx-lensW/2, line, lensW, lensH, radius)
		dc.SetColor(s.Lens)
		dc.FillPreserve()
		dc.SetColor(s.Frame)
		dc.SetLineWidth(line)
		dc.Stroke()
	}

	dc.SetColor(s.Frame)
	dc.SetLineWidth(line)
	dc.DrawLine(w*0.25+lensW/2, h*0.35, w*0.75-lensW/2, h*0.35)
	dc.Stroke()
	return dc.Image()
}

// ImageAccessory stretches a decoded asset to the placement box.
type ImageAccessory struct {
	src image.Image
}

// LoadImageAccessory decodes a PNG or JPEG asset from disk.
func LoadImageAccessory(path string) (*ImageAccessory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accessory: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode accessory: %w", err)
	}
	return &ImageAccessory{src: img}, nil
}

// Render resizes the asset.
func (a *ImageAccessory) Render(width, height int) image.Image {
	return imaging.Resize(a.src, width, height, imaging.Lanczos)
}

// Placement anchors the accessory on one face.
type Placement struct {
	Face int
	Eyes geometry.EyePair
	Box  geometry.Box
}

// PlaceAccessories resolves an eye pair per face in original-image space,
// maps it into preview space and sizes the accessory box there. Faces
// without a resolvable pair are skipped.
func PlaceAccessories(faces []faceapi.DetectedFace, scale float64, policy geometry.Policy) []Placement {
	var out []Placement
	for i, face := range faces {
		pair, ok := geometry.SelectEyePair(face.Landmarks)
		if !ok {
			continue
		}
		scaled := pair.Scale(scale)
		out = append(out, Placement{
			Face: i,
			Eyes: scaled,
			Box:  geometry.PlaceAccessory(scaled, policy),
		})
	}
	return out
}

// Layer is an accessory rendered at its final pixel size.
type Layer struct {
	Rect  image.Rectangle
	Image image.Image
}

// PrepareLayers renders the accessory once per placement so repeated
// repaints only composite.
func PrepareLayers(acc Accessory, placements []Placement) []Layer {
	layers := make([]Layer, 0, len(placements))
	for _, pl := range placements {
		r := pl.Box.Rect()
		if r.Empty() {
			continue
		}
		layers = append(layers, Layer{Rect: r, Image: acc.Render(r.Dx(), r.Dy())})
	}
	return layers
}

// DrawLayers composites the layers at the painter's current opacity.
func DrawLayers(p *canvas.Painter, layers []Layer) {
	for _, l := range layers {
		p.DrawImage(l.Image, l.Rect)
	}
}
