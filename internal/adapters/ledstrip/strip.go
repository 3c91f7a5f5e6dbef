// Package ledstrip drives addressable RGB strips that take raw frames over UDP.
package ledstrip

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

const (
	// DefaultPort is the port the strip firmware listens on.
	DefaultPort = 42424
	// DefaultPixels is the strip length the firmware expects.
	DefaultPixels = 60
	// DefaultFrameInterval gives roughly 30 frames per second.
	DefaultFrameInterval = 33 * time.Millisecond
)

var _ ports.Device = (*Strip)(nil)

// Option configures a Strip.
type Option func(*Strip)

// WithPixels sets the strip length. Each frame carries three bytes per pixel.
func WithPixels(n int) Option {
	return func(s *Strip) {
		if n > 0 {
			s.pixels = n
		}
	}
}

// WithFrameInterval sets the fade frame spacing.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Strip) {
		if d > 0 {
			s.frameInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Strip) {
		if log != nil {
			s.log = log
		}
	}
}

// Strip renders uniform colors onto a UDP pixel strip. The firmware has no
// notion of transitions, so fades are sent as a sequence of frames. A fade
// runs in the background after its first frame and is replaced by the next
// Apply call.
type Strip struct {
	id            string
	addr          string
	pixels        int
	frameInterval time.Duration
	log           *zap.Logger

	mu    sync.Mutex
	conn  net.Conn
	color domain.Color
	fade  *fade

	shownMu sync.Mutex
	shown   domain.RGB
}

// fade is a running background frame sequence.
type fade struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStrip returns a driver for the strip at host:port.
func NewStrip(id, host string, port int, opts ...Option) *Strip {
	if port == 0 {
		port = DefaultPort
	}
	s := &Strip{
		id:            id,
		addr:          net.JoinHostPort(host, strconv.Itoa(port)),
		pixels:        DefaultPixels,
		frameInterval: DefaultFrameInterval,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("ledstrip").With(zap.String("device_id", id))
	return s
}

// ID implements ports.Device.
func (s *Strip) ID() string { return s.id }

// ApplyBrightness implements ports.Device. The target color of the last
// ApplyColor is kept, even if its fade was cut short.
func (s *Strip) ApplyBrightness(ctx context.Context, percent int, transition time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, s.color, percent, transition)
}

// ApplyColor implements ports.Device.
func (s *Strip) ApplyColor(ctx context.Context, hue, saturation, brightness int, transition time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, domain.Color{Hue: hue, Saturation: saturation}, brightness, transition)
}

// Close stops any running fade and releases the socket.
func (s *Strip) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopFadeLocked()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// startLocked replaces the running fade with one towards color at level.
// Only the first frame is written under ctx; the rest follow in the
// background at frameInterval.
func (s *Strip) startLocked(ctx context.Context, color domain.Color, level int, transition time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.stopFadeLocked()

	conn, err := s.connLocked(ctx)
	if err != nil {
		return err
	}

	from := s.lastShown()
	to := color.RGB(level)
	steps := int(math.Ceil(float64(transition) / float64(s.frameInterval)))
	if steps < 1 {
		steps = 1
	}
	s.color = color

	frame := make([]byte, s.pixels*3)
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := s.writeFrame(conn, frame, lerp(from, to, 1/float64(steps))); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Time{})

	if steps == 1 {
		s.log.Debug("frame sent", zap.Int("hue", color.Hue), zap.Int("brightness", level))
		return nil
	}

	fadeCtx, cancel := context.WithCancel(context.Background())
	f := &fade{cancel: cancel, done: make(chan struct{})}
	s.fade = f
	go s.runFade(fadeCtx, f, conn, frame, from, to, steps)

	s.log.Debug("fade started",
		zap.Int("frames", steps),
		zap.Int("hue", color.Hue),
		zap.Int("brightness", level),
	)
	return nil
}

// runFade writes frames 2..steps. It never takes s.mu: stopFadeLocked waits
// for it while holding the lock.
func (s *Strip) runFade(ctx context.Context, f *fade, conn net.Conn, frame []byte, from, to domain.RGB, steps int) {
	defer close(f.done)
	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	for i := 2; i <= steps; i++ {
		select {
		case <-ctx.Done():
			s.log.Debug("fade replaced", zap.Int("frame", i-1), zap.Int("frames", steps))
			return
		case <-ticker.C:
		}
		if err := s.writeFrame(conn, frame, lerp(from, to, float64(i)/float64(steps))); err != nil {
			s.log.Warn("fade aborted", zap.Int("frame", i), zap.Error(err))
			return
		}
	}
}

// stopFadeLocked cancels the running fade and waits for it to exit. Requires s.mu.
func (s *Strip) stopFadeLocked() {
	if s.fade == nil {
		return
	}
	s.fade.cancel()
	<-s.fade.done
	s.fade = nil
}

func (s *Strip) writeFrame(conn net.Conn, frame []byte, px domain.RGB) error {
	fill(frame, px)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("ledstrip: %s: write frame: %w", s.addr, err)
	}
	s.shownMu.Lock()
	s.shown = px
	s.shownMu.Unlock()
	return nil
}

func (s *Strip) lastShown() domain.RGB {
	s.shownMu.Lock()
	defer s.shownMu.Unlock()
	return s.shown
}

func (s *Strip) connLocked(ctx context.Context) (net.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("ledstrip: dial %s: %w", s.addr, err)
	}
	s.conn = conn
	return conn, nil
}

func fill(frame []byte, c domain.RGB) {
	for i := 0; i+2 < len(frame); i += 3 {
		frame[i] = c.R
		frame[i+1] = c.G
		frame[i+2] = c.B
	}
}

func lerp(a, b domain.RGB, t float64) domain.RGB {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return domain.RGB{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B)}
}
