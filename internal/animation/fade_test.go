package animation

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/canvas"
)

type manualScheduler struct {
	mu       sync.Mutex
	fns      []func()
	stopped  []bool
	interval time.Duration
}

func (m *manualScheduler) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.fns)
	m.fns = append(m.fns, fn)
	m.stopped = append(m.stopped, false)
	m.interval = interval
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped[idx] = true
	}
}

// tick fires every timer that is still running and reports how many fired.
func (m *manualScheduler) tick() int {
	m.mu.Lock()
	var live []func()
	for i, fn := range m.fns {
		if !m.stopped[i] {
			live = append(live, fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range live {
		fn()
	}
	return len(live)
}

func (m *manualScheduler) running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.stopped {
		if !s {
			n++
		}
	}
	return n
}

func testSurface() *canvas.Surface {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+1], img.Pix[i+3] = 0x60, 0xff
	}
	return canvas.NewPreview(img, 40, 20)
}

var accessory = func() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+3] = 0xff
	}
	return img
}()

func paintAccessory(p *canvas.Painter) {
	p.DrawImage(accessory, image.Rect(10, 5, 30, 15))
}

func TestFadeRestoresSnapshotAfterBoundedTicks(t *testing.T) {
	sched := &manualScheduler{}
	fade := NewFade(Config{}, sched, zap.NewNop())
	surface := testSurface()
	before := surface.Snapshot()

	doneCalls := 0
	if err := fade.Start(surface, paintAccessory, func() { doneCalls++ }); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if fade.State() != Visible || fade.Opacity() != 1 {
		t.Fatalf("expected visible at full opacity, got %v %v", fade.State(), fade.Opacity())
	}
	if before.Matches(surface.Image()) {
		t.Fatal("expected the accessory to be drawn")
	}
	if sched.interval != DefaultInterval {
		t.Fatalf("expected default interval, got %v", sched.interval)
	}

	sched.tick()
	if fade.State() != Fading || math.Abs(fade.Opacity()-0.95) > 1e-9 {
		t.Fatalf("expected fading at 0.95, got %v %v", fade.State(), fade.Opacity())
	}
	r, g, b, _ := surface.Image().At(20, 10).RGBA()
	if r != 0 || b != 0 || g>>8 == 0 || g>>8 >= 0x60 {
		t.Fatalf("expected a mostly black pixel under the accessory, got %d %d %d", r>>8, g>>8, b>>8)
	}

	ticks := 1
	maxTicks := (Config{}).MaxTicks()
	for fade.State() != Done {
		if ticks > maxTicks {
			t.Fatalf("fade did not finish within %d ticks", maxTicks)
		}
		sched.tick()
		ticks++
	}

	if ticks != 20 {
		t.Fatalf("expected 20 ticks, got %d", ticks)
	}
	if !before.Matches(surface.Image()) {
		t.Fatal("expected surface to be restored pixel for pixel")
	}
	if doneCalls != 1 {
		t.Fatalf("expected onDone once, got %d", doneCalls)
	}
	if sched.running() != 0 {
		t.Fatal("expected the timer to be stopped")
	}
	if sched.tick() != 0 || doneCalls != 1 {
		t.Fatal("expected no further ticks after completion")
	}
}

func TestFadeIgnoresStartWhileActive(t *testing.T) {
	sched := &manualScheduler{}
	fade := NewFade(Config{Step: 0.5}, sched, zap.NewNop())
	surface := testSurface()

	if err := fade.Start(surface, paintAccessory, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fade.Start(surface, paintAccessory, nil); !errors.Is(err, ErrActive) {
		t.Fatalf("expected ErrActive, got %v", err)
	}
	if sched.running() != 1 {
		t.Fatalf("expected exactly one timer, got %d", sched.running())
	}

	sched.tick()
	sched.tick()
	if fade.State() != Done {
		t.Fatalf("expected done, got %v", fade.State())
	}
	if err := fade.Start(surface, paintAccessory, nil); err != nil {
		t.Fatalf("expected restart after completion, got %v", err)
	}
}

func TestFadeCancelDropsStaleTicks(t *testing.T) {
	sched := &manualScheduler{}
	fade := NewFade(Config{}, sched, zap.NewNop())
	surface := testSurface()

	if err := fade.Start(surface, paintAccessory, func() { t.Fatal("onDone must not run after cancel") }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale := sched.fns[0]
	fade.Cancel()

	if fade.State() != Idle {
		t.Fatalf("expected idle after cancel, got %v", fade.State())
	}
	if sched.running() != 0 {
		t.Fatal("expected the timer to be stopped")
	}

	// Paint over the surface as a new preview would, then fire the old timer.
	surface.Paint(func(p *canvas.Painter) {
		p.DrawImage(image.NewUniform(color.White), surface.Bounds())
	})
	after := surface.Snapshot()
	stale()
	if !after.Matches(surface.Image()) {
		t.Fatal("expected a stale tick to leave the surface alone")
	}
}

func TestFadeReportsFrames(t *testing.T) {
	sched := &manualScheduler{}
	fade := NewFade(Config{Step: 0.25}, sched, zap.NewNop())
	frames := 0
	fade.OnFrame(func(*canvas.Surface) { frames++ })

	if err := fade.Start(testSurface(), paintAccessory, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for fade.State() != Done {
		sched.tick()
	}
	if frames != 5 {
		t.Fatalf("expected 5 frames (start + 4 ticks), got %d", frames)
	}
}

func TestFadeWithTickerScheduler(t *testing.T) {
	fade := NewFade(Config{Interval: time.Millisecond, Step: 0.2}, TickerScheduler{}, zap.NewNop())
	surface := testSurface()
	before := surface.Snapshot()

	done := make(chan struct{})
	if err := fade.Start(surface, paintAccessory, func() { close(done) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fade did not finish in time")
	}
	if !before.Matches(surface.Image()) {
		t.Fatal("expected surface to be restored")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Step: -1}.withDefaults()
	if cfg.Interval != DefaultInterval || cfg.Step != DefaultStep {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if got := (Config{Step: 0.3}).MaxTicks(); got != 4 {
		t.Fatalf("expected 4 ticks, got %d", got)
	}
}
