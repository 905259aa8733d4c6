package animation

import (
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/canvas"
)

// State is the phase of a fade.
type State int

const (
	Idle State = iota
	Visible
	Fading
	Done
)

func (s State) String() string {
	switch s {
	case Visible:
		return "visible"
	case Fading:
		return "fading"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// ErrActive is returned by Start while a fade is still running.
var ErrActive = errors.New("animation: fade already running")

const (
	DefaultInterval = 50 * time.Millisecond
	DefaultStep     = 0.05
)

// Config controls the opacity ramp.
type Config struct {
	Interval time.Duration
	Step     float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Step <= 0 || c.Step > 1 {
		c.Step = DefaultStep
	}
	return c
}

// MaxTicks is the number of ticks after which a fade has always finished.
func (c Config) MaxTicks() int {
	return int(math.Ceil(1 / c.withDefaults().Step))
}

// Fade composites an accessory over a saved snapshot and fades it out, one
// tick at a time. At most one fade runs per Fade value.
type Fade struct {
	mu        sync.Mutex
	cfg       Config
	scheduler Scheduler
	logger    *zap.Logger

	state    State
	opacity  float64
	ticks    int
	gen      uint64
	surface  *canvas.Surface
	snapshot canvas.Snapshot
	paint    func(p *canvas.Painter)
	stop     func()
	onDone   func()
	onFrame  func(s *canvas.Surface)
}

// NewFade returns an idle fade driven by scheduler.
func NewFade(cfg Config, scheduler Scheduler, logger *zap.Logger) *Fade {
	return &Fade{
		cfg:       cfg.withDefaults(),
		scheduler: scheduler,
		logger:    logger.Named("fade"),
	}
}

// OnFrame registers an observer called after every repaint, including the
// final restore.
func (f *Fade) OnFrame(fn func(s *canvas.Surface)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFrame = fn
}

// Start snapshots the surface, paints the accessory at full opacity and
// schedules the ramp. onDone runs once the snapshot has been restored.
func (f *Fade) Start(surface *canvas.Surface, paint func(p *canvas.Painter), onDone func()) error {
	f.mu.Lock()
	if f.state == Visible || f.state == Fading {
		f.mu.Unlock()
		return ErrActive
	}

	f.gen++
	gen := f.gen
	f.surface = surface
	f.paint = paint
	f.onDone = onDone
	f.ticks = 0
	f.opacity = 1
	f.state = Visible

	surface.Paint(func(p *canvas.Painter) {
		f.snapshot = p.Snapshot()
		p.SetOpacity(1)
		paint(p)
	})
	f.stop = f.scheduler.Every(f.cfg.Interval, func() { f.tick(gen) })
	onFrame := f.onFrame
	f.mu.Unlock()

	f.logger.Debug("fade started", zap.Duration("interval", f.cfg.Interval), zap.Float64("step", f.cfg.Step))
	if onFrame != nil {
		onFrame(surface)
	}
	return nil
}

// Cancel stops a running fade without touching the surface. It is meant for
// a surface that is being replaced.
func (f *Fade) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Visible && f.state != Fading {
		return
	}
	f.gen++
	if f.stop != nil {
		f.stop()
		f.stop = nil
	}
	f.state = Idle
	f.surface, f.paint, f.onDone = nil, nil, nil
	f.snapshot = canvas.Snapshot{}
	f.logger.Debug("fade cancelled")
}

// State returns the current phase.
func (f *Fade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Opacity returns the accessory opacity of the last repaint.
func (f *Fade) Opacity() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opacity
}

// Active reports whether a fade is running.
func (f *Fade) Active() bool {
	s := f.State()
	return s == Visible || s == Fading
}

func (f *Fade) tick(gen uint64) {
	f.mu.Lock()
	if gen != f.gen || (f.state != Visible && f.state != Fading) {
		f.mu.Unlock()
		return
	}

	f.ticks++
	f.opacity = 1 - float64(f.ticks)*f.cfg.Step
	finished := f.opacity <= 1e-9

	surface, snapshot, paint := f.surface, f.snapshot, f.paint
	if finished {
		f.opacity = 0
		f.state = Done
		if f.stop != nil {
			f.stop()
			f.stop = nil
		}
		surface.Paint(func(p *canvas.Painter) {
			p.Restore(snapshot)
			p.SetOpacity(1)
		})
	} else {
		f.state = Fading
		opacity := f.opacity
		surface.Paint(func(p *canvas.Painter) {
			p.Restore(snapshot)
			p.SetOpacity(opacity)
			paint(p)
			p.SetOpacity(1)
		})
	}

	onFrame, onDone, ticks := f.onFrame, f.onDone, f.ticks
	if finished {
		f.surface, f.paint, f.onDone = nil, nil, nil
		f.snapshot = canvas.Snapshot{}
	}
	f.mu.Unlock()

	if onFrame != nil {
		onFrame(surface)
	}
	if finished {
		f.logger.Debug("fade finished", zap.Int("ticks", ticks))
		if onDone != nil {
			onDone()
		}
	}
}
