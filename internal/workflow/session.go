package workflow

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/animation"
	"github.com/example/face-overlay/internal/canvas"
	"github.com/example/face-overlay/internal/faceapi"
	"github.com/example/face-overlay/internal/geometry"
	"github.com/example/face-overlay/internal/logging"
	"github.com/example/face-overlay/internal/render"
)

// MaxUploadSize is the largest image accepted for upload.
const MaxUploadSize = 16 << 20

// DefaultNoticeTTL is how long a failure notice stays visible.
const DefaultNoticeTTL = 5 * time.Second

// DefaultMaxPixels bounds the decoded canvas of a selected image.
const DefaultMaxPixels = 40_000_000

// State is the position of a session in the upload, analyze, overlay flow.
type State int

const (
	Idle State = iota
	Previewed
	Uploaded
	Analyzed
)

func (s State) String() string {
	switch s {
	case Previewed:
		return "previewed"
	case Uploaded:
		return "uploaded"
	case Analyzed:
		return "analyzed"
	default:
		return "idle"
	}
}

// Options configures a Session. Zero values fall back to defaults. OnFrame,
// when set, observes every fade repaint.
type Options struct {
	MaxWidth  float64
	Policy    geometry.Policy
	NoticeTTL time.Duration
	Accessory render.Accessory
	Fade      animation.Config
	Scheduler animation.Scheduler
	MaxPixels int
	OnFrame   func(s *canvas.Surface)
	Metrics   *Metrics
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = geometry.DefaultMaxWidth
	}
	if o.Policy.WidthFactor <= 0 || o.Policy.AspectRatio <= 0 {
		o.Policy = geometry.DefaultPolicy
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	if o.NoticeTTL <= 0 {
		o.NoticeTTL = DefaultNoticeTTL
	}
	if o.Accessory == nil {
		o.Accessory = render.DefaultSunglasses
	}
	if o.Scheduler == nil {
		o.Scheduler = animation.TickerScheduler{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session holds one user's image and everything derived from it. Selecting a
// new image discards all derived state and bumps the generation, so responses
// and fade ticks that belong to an older image are dropped.
type Session struct {
	mu     sync.Mutex
	client faceapi.Client
	logger *zap.Logger
	opts   Options
	fade   *animation.Fade

	state      State
	generation string
	busy       bool

	filename       string
	data           []byte
	originalWidth  int
	originalHeight int
	scale          float64
	surface        *canvas.Surface
	base           canvas.Snapshot

	fileRef        string
	faces          []faceapi.DetectedFace
	placements     []render.Placement
	overlayApplied bool
	overlayDone    chan struct{}

	notice *Notice
}

// NewSession returns an idle session.
func NewSession(client faceapi.Client, logger *zap.Logger, opts Options) *Session {
	opts = opts.withDefaults()
	fade := animation.NewFade(opts.Fade, opts.Scheduler, logger)
	if opts.OnFrame != nil {
		fade.OnFrame(opts.OnFrame)
	}
	return &Session{
		client: client,
		logger: logger.Named("session"),
		opts:   opts,
		fade:   fade,
	}
}

// SelectImage validates and decodes a newly chosen image and builds its
// preview. Any previous image, upload, analysis and running fade are
// discarded, even when the new image is rejected.
func (s *Session) SelectImage(_ context.Context, filename string, data []byte) (err error) {
	const op = "select"
	defer s.observe(op, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notice = nil
	s.reset()

	switch {
	case len(data) == 0:
		return s.fail(newError(KindValidation, op, MsgNoFile, nil))
	case len(data) > MaxUploadSize:
		return s.fail(newError(KindValidation, op, MsgTooLarge, nil))
	}

	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return s.fail(newError(KindDecode, op, msgDecode, err))
	}
	if header.Width <= 0 || header.Height <= 0 {
		return s.fail(newError(KindDecode, op, msgDecode, nil))
	}
	if int64(header.Width)*int64(header.Height) > int64(s.opts.MaxPixels) {
		return s.fail(newError(KindValidation, op, msgTooManyPixels, nil))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return s.fail(newError(KindDecode, op, msgDecode, err))
	}
	b := img.Bounds()
	scale, err := geometry.ComputeScale(float64(b.Dx()), s.opts.MaxWidth)
	if err != nil {
		return s.fail(newError(KindDecode, op, msgDecode, err))
	}
	pw, ph := geometry.PreviewSize(b.Dx(), b.Dy(), scale)
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}

	s.surface = canvas.NewPreview(img, pw, ph)
	s.base = s.surface.Snapshot()
	s.filename = filename
	s.data = data
	s.originalWidth, s.originalHeight = b.Dx(), b.Dy()
	s.scale = scale
	s.state = Previewed

	logging.WithOperation(s.logger, op, s.generation).Info("image previewed",
		zap.String("filename", filename),
		zap.String("format", format),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()),
		zap.Float64("scale", scale),
	)
	return nil
}

// Upload sends the selected image to the detection service. When the service
// answers with detections inline the session moves straight to Analyzed.
func (s *Session) Upload(ctx context.Context) (err error) {
	const op = "upload"
	defer s.observe(op, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(op, Previewed); err != nil {
		return err
	}
	if len(s.data) > MaxUploadSize {
		return s.fail(newError(KindValidation, op, MsgTooLarge, nil))
	}

	gen, filename, data := s.generation, s.filename, s.data
	var res *faceapi.UploadResult
	if !s.outside(gen, func() {
		res, err = s.client.Upload(logging.ContextWithRequestID(ctx, gen), filename, data)
	}) {
		return s.stale(op, gen)
	}
	if err != nil {
		return s.fail(classify(op, err))
	}

	if res.Inline {
		if len(res.Faces) == 0 {
			return s.fail(newError(KindService, op, msgNoFaces, nil))
		}
		s.ingest(res.Faces)
		logging.WithOperation(s.logger, op, gen).Info("upload returned detections", zap.Int("faces", len(res.Faces)))
		return nil
	}

	s.fileRef = res.FileRef
	s.state = Uploaded
	logging.WithOperation(s.logger, op, gen).Info("image uploaded", zap.String("file_ref", res.FileRef))
	return nil
}

// Analyze requests detections for the uploaded image and draws them over the
// preview.
func (s *Session) Analyze(ctx context.Context) (err error) {
	const op = "analyze"
	defer s.observe(op, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(op, Uploaded); err != nil {
		return err
	}

	gen, fileRef := s.generation, s.fileRef
	var faces []faceapi.DetectedFace
	if !s.outside(gen, func() {
		faces, err = s.client.Analyze(logging.ContextWithRequestID(ctx, gen), fileRef)
	}) {
		return s.stale(op, gen)
	}
	if err != nil {
		return s.fail(classify(op, err))
	}
	if len(faces) == 0 {
		return s.fail(newError(KindService, op, msgNoFaces, nil))
	}

	s.ingest(faces)
	logging.WithOperation(s.logger, op, gen).Info("analysis complete",
		zap.Int("faces", len(faces)),
		zap.Int("eye_pairs", len(s.placements)),
	)
	return nil
}

// ApplyOverlay places the accessory over every face with a resolvable eye
// pair and starts the fade. A request while a fade is running is rejected.
func (s *Session) ApplyOverlay() (err error) {
	const op = "overlay"
	defer s.observe(op, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fade.Active() {
		return s.fail(newError(KindAnimationActive, op, msgAnimationBusy, nil))
	}
	if err := s.ready(op, Analyzed); err != nil {
		return err
	}
	if len(s.placements) == 0 {
		return s.fail(newError(KindNoEyePair, op, msgNoEyePair, nil))
	}

	layers := render.PrepareLayers(s.opts.Accessory, s.placements)
	gen := s.generation
	done := make(chan struct{})
	err = s.fade.Start(s.surface, func(p *canvas.Painter) {
		render.DrawLayers(p, layers)
	}, func() {
		s.finishOverlay(gen, done)
	})
	if err != nil {
		if errors.Is(err, animation.ErrActive) {
			return s.fail(newError(KindAnimationActive, op, msgAnimationBusy, err))
		}
		return s.fail(newError(KindService, op, err.Error(), err))
	}

	s.overlayApplied = true
	s.overlayDone = done
	logging.WithOperation(s.logger, op, gen).Info("overlay started", zap.Int("layers", len(layers)))
	return nil
}

// WaitOverlay blocks until the running fade finishes or is cancelled by a
// new selection. It returns immediately when no overlay is running.
func (s *Session) WaitOverlay(ctx context.Context) error {
	s.mu.Lock()
	done := s.overlayDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) finishOverlay(gen string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlayDone == done {
		close(done)
		s.overlayDone = nil
	}
	logging.WithOperation(s.logger, "overlay", gen).Debug("overlay finished")
}

// View is a read-only picture of a session.
type View struct {
	State          string               `json:"state"`
	Generation     string               `json:"generation,omitempty"`
	Busy           bool                 `json:"busy"`
	Animating      bool                 `json:"animating"`
	OverlayApplied bool                 `json:"overlay_applied"`
	CanUpload      bool                 `json:"can_upload"`
	CanAnalyze     bool                 `json:"can_analyze"`
	CanOverlay     bool                 `json:"can_overlay"`
	Filename       string               `json:"filename,omitempty"`
	OriginalWidth  int                  `json:"original_width,omitempty"`
	OriginalHeight int                  `json:"original_height,omitempty"`
	Scale          float64              `json:"scale,omitempty"`
	PreviewWidth   int                  `json:"preview_width,omitempty"`
	PreviewHeight  int                  `json:"preview_height,omitempty"`
	FileRef        string               `json:"file_ref,omitempty"`
	Faces          []render.FaceSummary `json:"faces,omitempty"`
	EyePairs       int                  `json:"eye_pairs"`
	Notice         *Notice              `json:"notice,omitempty"`
}

// Snapshot reports the current state, which actions are enabled and the
// per-face breakdown. An expired notice is dropped.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	animating := s.fade.Active()
	v := View{
		State:          s.state.String(),
		Generation:     s.generation,
		Busy:           s.busy,
		Animating:      animating,
		OverlayApplied: s.overlayApplied,
		CanUpload:      s.state == Previewed && !s.busy,
		CanAnalyze:     s.state == Uploaded && !s.busy,
		CanOverlay:     s.state == Analyzed && !s.busy && !animating && len(s.placements) > 0,
		Filename:       s.filename,
		OriginalWidth:  s.originalWidth,
		OriginalHeight: s.originalHeight,
		Scale:          s.scale,
		FileRef:        s.fileRef,
		EyePairs:       len(s.placements),
	}
	if s.surface != nil {
		b := s.surface.Bounds()
		v.PreviewWidth, v.PreviewHeight = b.Dx(), b.Dy()
	}
	if s.state == Analyzed {
		v.Faces = render.Breakdown(s.faces)
	}
	if s.notice != nil {
		if s.opts.Now().Before(s.notice.ExpiresAt) {
			n := *s.notice
			v.Notice = &n
		} else {
			s.notice = nil
		}
	}
	return v
}

// PreviewPNG writes the current preview surface.
func (s *Session) PreviewPNG(w io.Writer) error {
	s.mu.Lock()
	surface := s.surface
	s.mu.Unlock()
	if surface == nil {
		return newError(KindNotReady, "preview", msgSelectFirst, nil)
	}
	return surface.EncodePNG(w)
}

// Surface returns the preview surface, or nil before an image is selected.
func (s *Session) Surface() *canvas.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// RejectSelection records a selection that was refused before its bytes
// reached SelectImage. The previous image and everything derived from it
// are discarded, as for any other selection.
func (s *Session) RejectSelection(kind Kind, message string) (err error) {
	const op = "select"
	defer s.observe(op, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notice = nil
	s.reset()
	return s.fail(newError(kind, op, message, nil))
}

// Close stops any running fade.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// reset discards the image and everything derived from it.
func (s *Session) reset() {
	s.fade.Cancel()
	if s.overlayDone != nil {
		close(s.overlayDone)
		s.overlayDone = nil
	}
	s.generation = uuid.NewString()
	s.state = Idle
	s.busy = false
	s.filename, s.data = "", nil
	s.originalWidth, s.originalHeight = 0, 0
	s.scale = 0
	s.surface = nil
	s.base = canvas.Snapshot{}
	s.fileRef = ""
	s.faces, s.placements = nil, nil
	s.overlayApplied = false
}

// ready checks the gating for an action that needs the session in want.
func (s *Session) ready(op string, want State) error {
	s.notice = nil
	if s.busy {
		return s.fail(newError(KindBusy, op, msgBusy, nil))
	}
	if s.state == want {
		return nil
	}
	if s.state > want {
		return s.fail(newError(KindNotReady, op, msgAlreadyDone, nil))
	}
	switch s.state {
	case Idle:
		return s.fail(newError(KindNotReady, op, msgSelectFirst, nil))
	case Previewed:
		return s.fail(newError(KindNotReady, op, msgUploadFirst, nil))
	default:
		return s.fail(newError(KindNotReady, op, msgAnalyzeFirst, nil))
	}
}

// outside runs fn with the session unlocked and marks the session busy for
// the duration. It reports whether gen is still current afterwards; busy is
// cleared only in that case, since a new selection already cleared it.
func (s *Session) outside(gen string, fn func()) (current bool) {
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		current = gen == s.generation
		if current {
			s.busy = false
		}
	}()
	fn()
	return
}

func (s *Session) stale(op, gen string) error {
	logging.WithOperation(s.logger, op, gen).Info("discarding response for replaced image")
	return newError(KindStale, op, msgStale, nil)
}

// ingest stores detections and redraws them over the clean preview.
func (s *Session) ingest(faces []faceapi.DetectedFace) {
	s.faces = faces
	s.placements = render.PlaceAccessories(faces, s.scale, s.opts.Policy)
	s.state = Analyzed
	base, scale := s.base, s.scale
	s.surface.Paint(func(p *canvas.Painter) {
		p.Restore(base)
		render.DrawDetections(p, faces, scale)
	})
}

func (s *Session) observe(op string, start time.Time, err *error) {
	s.opts.Metrics.record(op, time.Since(start), *err)
}

func (s *Session) fail(e *Error) error {
	s.notice = &Notice{
		Kind:      e.Kind,
		Message:   e.Message,
		ExpiresAt: s.opts.Now().Add(s.opts.NoticeTTL),
	}
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("message", e.Message),
		zap.Error(e.Err),
	}
	if cause := logging.OperationOf(e.Err); cause != "" {
		fields = append(fields, zap.String("cause_operation", cause))
	}
	logging.WithOperation(s.logger, e.Op, s.generation).Warn("action failed", fields...)
	return e
}
