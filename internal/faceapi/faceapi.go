package faceapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-overlay/internal/geometry"
)

// ErrTransport marks failures to reach the detection service at all.
var ErrTransport = errors.New("faceapi: transport failure")

// DetectedFace is one face returned by the detection service, in
// original-image pixels.
type DetectedFace struct {
	X          float64             `json:"x"`
	Y          float64             `json:"y"`
	Width      float64             `json:"width"`
	Height     float64             `json:"height"`
	Landmarks  []geometry.Landmark `json:"landmarks"`
	Expression *ExpressionResult   `json:"expression,omitempty"`
}

// Rect returns the face box.
func (f DetectedFace) Rect() geometry.Rect {
	return geometry.Rect{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height}
}

// ExpressionResult is the optional expression classification of a face.
type ExpressionResult struct {
	Expression string                 `json:"expression"`
	Confidence float64                `json:"confidence"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// UploadResult is what the upload endpoint handed back: a file reference for
// a later Analyze call, or faces analysed inline.
type UploadResult struct {
	FileRef string
	Faces   []DetectedFace
	Inline  bool
}

// ServiceError is a failure reported by a reachable service.
type ServiceError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("faceapi: service error (status %d): %s", e.StatusCode, e.Message)
	}
	return "faceapi: service error: " + e.Message
}

// Client exposes the detection service operations used by the workflow.
type Client interface {
	Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error)
	Analyze(ctx context.Context, fileRef string) ([]DetectedFace, error)
}
