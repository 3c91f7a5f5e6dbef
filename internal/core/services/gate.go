package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
	"github.com/ewilliams-labs/pulselight/internal/platform/metrics"
)

var (
	// ErrPreempted means a brightness command was cancelled by a color command.
	ErrPreempted = errors.New("gate: preempted")
	// ErrDeviceBusy means a brightness command found the device busy and was dropped.
	ErrDeviceBusy = errors.New("gate: device busy")
	// ErrSuppressed means the command would not change the device.
	ErrSuppressed = errors.New("gate: unchanged, suppressed")
)

const (
	// DefaultDeviceTimeout bounds a single device call.
	DefaultDeviceTimeout = 1500 * time.Millisecond
	// DefaultHoldMargin is two default engine ticks.
	DefaultHoldMargin = 40 * time.Millisecond
)

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDeviceTimeout overrides DefaultDeviceTimeout.
func WithDeviceTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithHoldMargin releases a brightness hold d before its transition ends, so
// the next segment's command, sent up to one tick early, finds the device free.
func WithHoldMargin(d time.Duration) GateOption {
	return func(g *Gate) {
		if d >= 0 {
			g.holdMargin = d
		}
	}
}

// WithGateMetrics records outcomes in m.
func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithObservers registers command observers.
func WithObservers(obs ...ports.CommandObserver) GateOption {
	return func(g *Gate) { g.observers = append(g.observers, obs...) }
}

// Gate serializes commands to one device. A brightness command is dropped
// when the device is busy; a color command cancels an in-flight brightness
// command and waits for the device.
type Gate struct {
	device    ports.Device
	log       *zap.Logger
	metrics   *metrics.Metrics
	observers []ports.CommandObserver
	timeout    time.Duration
	holdMargin time.Duration
	now        func() time.Time

	// sem is the per-device lock: holding its single slot means owning the device.
	sem chan struct{}

	mu           sync.Mutex
	state        domain.DeviceState
	cancel       context.CancelFunc // in-flight brightness only
	pendingColor int
}

// NewGate wraps device.
func NewGate(device ports.Device, log *zap.Logger, opts ...GateOption) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		device:  device,
		log:     log.Named("gate").With(zap.String("device", device.ID())),
		timeout:    DefaultDeviceTimeout,
		holdMargin: DefaultHoldMargin,
		now:        time.Now,
		sem:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DeviceID returns the wrapped device's id.
func (g *Gate) DeviceID() string {
	return g.device.ID()
}

// State returns a copy of the device state.
func (g *Gate) State() domain.DeviceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetBrightness applies a brightness-only command unless the device is busy.
// The device is held until the hold margin before the transition ends, and
// DeviceState is committed only if that hold is not cancelled.
func (g *Gate) SetBrightness(ctx context.Context, value int, transition time.Duration) (domain.Outcome, error) {
	cmd := domain.Command{Kind: domain.CommandBrightness, Brightness: value, Transition: transition}
	start := g.now()

	select {
	case g.sem <- struct{}{}:
	default:
		g.log.Debug("brightness dropped, device busy", zap.Int("brightness", value))
		return g.finish(cmd, domain.OutcomeDropped, ErrDeviceBusy)
	}
	defer g.release()

	g.mu.Lock()
	if g.state.SameBrightness(value) {
		g.mu.Unlock()
		return g.finish(cmd, domain.OutcomeSuppressed, ErrSuppressed)
	}
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.cancel = cancel
	g.state.Busy = true
	g.state.InFlight = domain.CommandBrightness
	if g.pendingColor > 0 {
		cancel()
	}
	g.mu.Unlock()

	if opCtx.Err() != nil {
		return g.cancelled(ctx, cmd)
	}

	sendCtx, sendCancel := context.WithTimeout(opCtx, g.timeout)
	err := g.device.ApplyBrightness(sendCtx, value, transition)
	sendCancel()
	if err != nil {
		if opCtx.Err() != nil {
			return g.cancelled(ctx, cmd)
		}
		return g.finish(cmd, domain.OutcomeFailed, &domain.DeviceCommandError{
			DeviceID: g.device.ID(),
			Op:       "set_brightness",
			Err:      err,
		})
	}

	if err := settle(opCtx, transition-g.now().Sub(start)-g.holdMargin); err != nil {
		return g.cancelled(ctx, cmd)
	}

	g.mu.Lock()
	g.state.LastBrightness = value
	g.state.Applied = true
	g.mu.Unlock()
	return g.finish(cmd, domain.OutcomeApplied, nil)
}

// SetColor applies a color command, cancelling any in-flight brightness
// command first. State is committed as soon as the device confirms; the
// device is then held until the transition is over.
func (g *Gate) SetColor(ctx context.Context, color domain.Color, brightness int, transition time.Duration) (domain.Outcome, error) {
	cmd := domain.Command{Kind: domain.CommandColor, Color: color, Brightness: brightness, Transition: transition}
	start := g.now()

	g.mu.Lock()
	g.pendingColor++
	if g.cancel != nil && g.state.InFlight == domain.CommandBrightness {
		g.log.Debug("color preempts in-flight brightness")
		g.cancel()
	}
	g.mu.Unlock()

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		g.mu.Lock()
		g.pendingColor--
		g.mu.Unlock()
		return g.finish(cmd, domain.OutcomeFailed, ctx.Err())
	}
	defer g.release()

	g.mu.Lock()
	g.pendingColor--
	if g.state.SameColor(color, brightness) {
		g.mu.Unlock()
		return g.finish(cmd, domain.OutcomeSuppressed, ErrSuppressed)
	}
	g.state.Busy = true
	g.state.InFlight = domain.CommandColor
	g.mu.Unlock()

	sendCtx, sendCancel := context.WithTimeout(ctx, g.timeout)
	err := g.device.ApplyColor(sendCtx, color.Hue, color.Saturation, brightness, transition)
	sendCancel()
	if err != nil {
		return g.finish(cmd, domain.OutcomeFailed, &domain.DeviceCommandError{
			DeviceID: g.device.ID(),
			Op:       "set_color",
			Err:      err,
		})
	}

	g.mu.Lock()
	g.state.LastHue = color.Hue
	g.state.LastSaturation = color.Saturation
	g.state.LastBrightness = brightness
	g.state.Applied = true
	g.mu.Unlock()

	if remaining := transition - g.now().Sub(start); remaining > 0 {
		// Shutdown cuts the hold short; the color is already committed.
		_ = settle(ctx, remaining)
	}
	return g.finish(cmd, domain.OutcomeApplied, nil)
}

// release frees the device. Every path that took the lock defers it.
func (g *Gate) release() {
	g.mu.Lock()
	g.cancel = nil
	g.state.Busy = false
	g.state.InFlight = ""
	g.mu.Unlock()
	<-g.sem
}

func (g *Gate) cancelled(parent context.Context, cmd domain.Command) (domain.Outcome, error) {
	if err := parent.Err(); err != nil {
		return g.finish(cmd, domain.OutcomeFailed, err)
	}
	g.log.Debug("brightness preempted", zap.Int("brightness", cmd.Brightness))
	return g.finish(cmd, domain.OutcomePreempted, ErrPreempted)
}

func (g *Gate) finish(cmd domain.Command, outcome domain.Outcome, err error) (domain.Outcome, error) {
	rec := domain.NewCommandRecord(g.device.ID(), cmd, outcome, err, g.now())
	g.metrics.IncCommand(string(cmd.Kind), string(outcome))

	if outcome == domain.OutcomeFailed {
		g.log.Warn("device command failed",
			zap.String("kind", string(cmd.Kind)),
			zap.Error(err),
		)
	} else {
		g.log.Debug("device command",
			zap.String("kind", string(cmd.Kind)),
			zap.String("outcome", string(outcome)),
			zap.Int("brightness", cmd.Brightness),
			zap.Duration("transition", cmd.Transition),
		)
	}

	for _, obs := range g.observers {
		obs.ObserveCommand(rec)
	}
	return outcome, err
}

// settle waits d or until ctx ends.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
