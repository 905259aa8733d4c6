package main

import (
	"bytes"
	"image"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/auth"
)

const facesJSON = `[{
  "x": 40, "y": 40, "width": 120, "height": 120,
  "landmarks": [
    {"x": 70, "y": 90, "type": "eye"},
    {"x": 130, "y": 92, "type": "eye"},
    {"x": 100, "y": 120, "type": "nose"}
  ],
  "expression": {"expression": "neutral", "confidence": 0.8}
}]`

func setTestEnv(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"FACE_API_URL", "ACCESSORY_PATH", "JWT_AUDIENCE", "PREVIEW_MAX_WIDTH", "NOTICE_TTL"} {
		t.Setenv(key, "")
	}
	t.Setenv("FADE_INTERVAL", "1ms")
	t.Setenv("FADE_STEP", "0.5")
	t.Setenv("JWT_SECRET", "cli-secret")
	return filepath.Join(t.TempDir(), "missing.env")
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write png: %v", err)
	}
}

func TestRunWritesPreviewAndGIF(t *testing.T) {
	envFile := setTestEnv(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "face.png")
	faces := filepath.Join(dir, "faces.json")
	out := filepath.Join(dir, "out.png")
	anim := filepath.Join(dir, "out.gif")
	writePNG(t, in, 200, 200)
	if err := os.WriteFile(faces, []byte(facesJSON), 0o600); err != nil {
		t.Fatalf("failed to write faces: %v", err)
	}

	var stdout bytes.Buffer
	cmd := newRootCmd(zap.NewNop())
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"run", "--env-file", envFile, "--in", in, "--faces", faces, "--out", out, "--gif", anim})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "1 face(s), 1 eye pair(s)") {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("missing preview: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("preview is not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 200 {
		t.Fatalf("unexpected preview size %v", b)
	}

	g, err := os.Open(anim)
	if err != nil {
		t.Fatalf("missing gif: %v", err)
	}
	defer g.Close()
	decoded, err := gif.DecodeAll(g)
	if err != nil {
		t.Fatalf("invalid gif: %v", err)
	}
	// Start frame plus one frame per tick.
	if len(decoded.Image) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(decoded.Image))
	}
}

func TestTokenIsAcceptedByMiddleware(t *testing.T) {
	envFile := setTestEnv(t)

	var stdout bytes.Buffer
	cmd := newRootCmd(zap.NewNop())
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"token", "--env-file", envFile, "--sub", "user-9"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token failed: %v", err)
	}

	subject, err := auth.ParseToken("cli-secret", "", strings.TrimSpace(stdout.String()))
	if err != nil || subject != "user-9" {
		t.Fatalf("expected subject user-9, got %q %v", subject, err)
	}
}

func TestRunRequiresInput(t *testing.T) {
	envFile := setTestEnv(t)
	cmd := newRootCmd(zap.NewNop())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--env-file", envFile})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected a missing --in to fail")
	}
}
