package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/example/face-overlay/internal/animation"
	"github.com/example/face-overlay/internal/canvas"
	"github.com/example/face-overlay/internal/config"
	"github.com/example/face-overlay/internal/faceapi"
	"github.com/example/face-overlay/internal/geometry"
	"github.com/example/face-overlay/internal/render"
	"github.com/example/face-overlay/internal/workflow"
)

type runOptions struct {
	in        string
	out       string
	gif       string
	faces     string
	api       string
	accessory string
	wait      time.Duration
}

func newRunCmd(logger *zap.Logger, getConfig func() *config.Config) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upload, analyze and overlay one image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOverlay(cmd.Context(), getConfig(), opts, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.in, "in", "i", "", "input image (jpeg, png or gif)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "overlay.png", "preview png written after the fade")
	cmd.Flags().StringVar(&opts.gif, "gif", "", "optional animated gif of the fade")
	cmd.Flags().StringVar(&opts.faces, "faces", "", "read detections from a JSON file instead of calling the service")
	cmd.Flags().StringVar(&opts.api, "api", "", "detection service base URL (defaults to FACE_API_URL)")
	cmd.Flags().StringVar(&opts.accessory, "accessory", "", "accessory image (defaults to ACCESSORY_PATH or drawn sunglasses)")
	cmd.Flags().DurationVar(&opts.wait, "wait", 30*time.Second, "how long to wait for the fade to finish")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func runOverlay(ctx context.Context, cfg *config.Config, opts runOptions, logger *zap.Logger, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(opts.in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	client, err := detectionClient(cfg, opts, logger)
	if err != nil {
		return err
	}

	accessoryPath := opts.accessory
	if accessoryPath == "" {
		accessoryPath = cfg.AccessoryPath
	}
	var accessory render.Accessory = render.DefaultSunglasses
	if accessoryPath != "" {
		img, err := render.LoadImageAccessory(accessoryPath)
		if err != nil {
			return err
		}
		accessory = img
	}

	recorder := newGIFRecorder(cfg.FadeInterval)
	sessOpts := workflow.Options{
		MaxWidth:  cfg.PreviewMaxWidth,
		Policy:    geometry.DefaultPolicy,
		NoticeTTL: cfg.NoticeTTL,
		Accessory: accessory,
		Fade:      animation.Config{Interval: cfg.FadeInterval, Step: cfg.FadeStep},
		Scheduler: animation.TickerScheduler{},
		MaxPixels: cfg.MaxImagePixels,
	}
	if opts.gif != "" {
		sessOpts.OnFrame = recorder.add
	}
	sess := workflow.NewSession(client, logger, sessOpts)
	defer sess.Close()

	if err := sess.SelectImage(ctx, filepath.Base(opts.in), data); err != nil {
		return err
	}
	if err := sess.Upload(ctx); err != nil {
		return err
	}
	if sess.Snapshot().CanAnalyze {
		if err := sess.Analyze(ctx); err != nil {
			return err
		}
	}

	view := sess.Snapshot()
	fmt.Fprintf(stdout, "%d face(s), %d eye pair(s), scale %.3f\n", len(view.Faces), view.EyePairs, view.Scale)
	for _, face := range view.Faces {
		fmt.Fprintln(stdout, face.String())
	}

	if view.CanOverlay {
		if err := sess.ApplyOverlay(); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, opts.wait)
		defer cancel()
		if err := sess.WaitOverlay(waitCtx); err != nil {
			return fmt.Errorf("wait for fade: %w", err)
		}
	} else {
		logger.Warn("no eye pair found; overlay skipped")
	}

	if err := writeFile(opts.out, sess.PreviewPNG); err != nil {
		return err
	}
	if opts.gif != "" {
		if err := writeFile(opts.gif, recorder.encode); err != nil {
			return err
		}
	}
	return nil
}

func detectionClient(cfg *config.Config, opts runOptions, logger *zap.Logger) (faceapi.Client, error) {
	if opts.faces != "" {
		raw, err := os.ReadFile(opts.faces)
		if err != nil {
			return nil, fmt.Errorf("read detections: %w", err)
		}
		var faces []faceapi.DetectedFace
		if err := json.Unmarshal(raw, &faces); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		return staticClient{faces: faces}, nil
	}
	api := opts.api
	if api == "" {
		api = cfg.FaceAPIURL
	}
	return faceapi.NewHTTPClient(api, cfg.FaceAPITimeout, logger), nil
}

// staticClient serves detections loaded from disk as an inline upload.
type staticClient struct {
	faces []faceapi.DetectedFace
}

func (c staticClient) Upload(context.Context, string, []byte) (*faceapi.UploadResult, error) {
	return &faceapi.UploadResult{Inline: true, Faces: c.faces}, nil
}

func (c staticClient) Analyze(context.Context, string) ([]faceapi.DetectedFace, error) {
	return c.faces, nil
}

func writeFile(path string, encode func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return encode(f)
}

type gifRecorder struct {
	mu     sync.Mutex
	delay  int
	frames []*image.Paletted
}

func newGIFRecorder(interval time.Duration) *gifRecorder {
	delay := int(interval / (10 * time.Millisecond))
	if delay < 1 {
		delay = 1
	}
	return &gifRecorder{delay: delay}
}

func (r *gifRecorder) add(s *canvas.Surface) {
	img := s.Image()
	frame := image.NewPaletted(img.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(frame, img.Bounds(), img, img.Bounds().Min)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *gifRecorder) encode(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return fmt.Errorf("no frames recorded")
	}
	delays := make([]int, len(r.frames))
	for i := range delays {
		delays[i] = r.delay
	}
	return gif.EncodeAll(w, &gif.GIF{Image: r.frames, Delay: delays})
}
