package render

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/example/face-overlay/internal/canvas"
	"github.com/example/face-overlay/internal/faceapi"
	"github.com/example/face-overlay/internal/geometry"
)

const (
	boxStroke      = 2.0
	landmarkRadius = 2.0
	labelOffset    = 10.0
)

var (
	boxColor      = color.RGBA{G: 0xff, A: 0xff}
	landmarkColor = color.RGBA{R: 0xff, A: 0xff}
	labelColor    = color.RGBA{G: 0xff, A: 0xff}
)

// Criterion is one entry of an expression's detail breakdown.
type Criterion struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// FaceSummary is the display breakdown of one detected face, in
// original-image pixels.
type FaceSummary struct {
	Index         int         `json:"index"`
	X             float64     `json:"x"`
	Y             float64     `json:"y"`
	Width         float64     `json:"width"`
	Height        float64     `json:"height"`
	LandmarkCount int         `json:"landmark_count"`
	Expression    string      `json:"expression,omitempty"`
	Confidence    *float64    `json:"confidence,omitempty"`
	Details       []Criterion `json:"details,omitempty"`
}

// String renders the summary the way the result panel lists it.
func (s FaceSummary) String() string {
	out := fmt.Sprintf("顔 %d\n位置: (%g, %g)\nサイズ: %g x %g\nランドマーク数: %d",
		s.Index, s.X, s.Y, s.Width, s.Height, s.LandmarkCount)
	if s.Expression != "" {
		out += fmt.Sprintf("\n表情: %s", s.Expression)
		if s.Confidence != nil {
			out += fmt.Sprintf(" (%.1f%%)", *s.Confidence*100)
		}
	}
	for _, c := range s.Details {
		out += fmt.Sprintf("\n  %s: %v", c.Name, c.Value)
	}
	return out
}

// DrawDetections strokes every face box, dots every landmark and writes the
// expression label above the box. It draws on top of whatever the surface
// holds, so callers restore the base preview first.
func DrawDetections(p *canvas.Painter, faces []faceapi.DetectedFace, scale float64) {
	for _, face := range faces {
		box := geometry.ScaleRect(face.Rect(), scale)
		p.StrokeRect(box, boxStroke, boxColor)

		for _, lm := range face.Landmarks {
			p.FillCircle(geometry.ScalePoint(lm.Point(), scale), landmarkRadius, landmarkColor)
		}

		if face.Expression != nil && face.Expression.Expression != "" {
			p.Text(face.Expression.Expression, geometry.Point{X: box.X, Y: box.Y - labelOffset}, labelColor)
		}
	}
}

// Breakdown lists faces 1-indexed in response order.
func Breakdown(faces []faceapi.DetectedFace) []FaceSummary {
	out := make([]FaceSummary, 0, len(faces))
	for i, face := range faces {
		summary := FaceSummary{
			Index:         i + 1,
			X:             face.X,
			Y:             face.Y,
			Width:         face.Width,
			Height:        face.Height,
			LandmarkCount: len(face.Landmarks),
		}
		if exp := face.Expression; exp != nil {
			confidence := exp.Confidence
			summary.Expression = exp.Expression
			summary.Confidence = &confidence
			summary.Details = criteria(exp.Details)
		}
		out = append(out, summary)
	}
	return out
}

func criteria(details map[string]interface{}) []Criterion {
	if len(details) == 0 {
		return nil
	}
	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Criterion, 0, len(names))
	for _, name := range names {
		out = append(out, Criterion{Name: name, Value: details[name]})
	}
	return out
}
