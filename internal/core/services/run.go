package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/ports"
	"github.com/ewilliams-labs/pulselight/internal/core/progress"
	"github.com/ewilliams-labs/pulselight/internal/platform/metrics"
)

// RunOptions collects the knobs for NewRuntime.
type RunOptions struct {
	Engine        EngineConfig
	Progress      progress.Options
	BusCapacity   int
	DeviceTimeout time.Duration
	Palette       ports.Palette
	Observers     []ports.CommandObserver
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// RunOption mutates RunOptions.
type RunOption func(*RunOptions)

// WithEngineConfig sets the engine tuning.
func WithEngineConfig(cfg EngineConfig) RunOption {
	return func(o *RunOptions) { o.Engine = cfg }
}

// WithProgressOptions sets the estimator tuning.
func WithProgressOptions(p progress.Options) RunOption {
	return func(o *RunOptions) { o.Progress = p }
}

// WithBusCapacity sets the bus size.
func WithBusCapacity(n int) RunOption {
	return func(o *RunOptions) { o.BusCapacity = n }
}

// WithCommandTimeout bounds each device call.
func WithCommandTimeout(d time.Duration) RunOption {
	return func(o *RunOptions) { o.DeviceTimeout = d }
}

// WithPalette replaces the default random palette.
func WithPalette(p ports.Palette) RunOption {
	return func(o *RunOptions) { o.Palette = p }
}

// WithCommandObservers registers observers on every gate.
func WithCommandObservers(obs ...ports.CommandObserver) RunOption {
	return func(o *RunOptions) { o.Observers = append(o.Observers, obs...) }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) RunOption {
	return func(o *RunOptions) { o.Logger = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RunOption {
	return func(o *RunOptions) { o.Metrics = m }
}

// Runtime is the composed pipeline: bus, estimator, gates and engine.
type Runtime struct {
	Bus       *EventBus
	Estimator *progress.Estimator
	Gates     []*Gate
	Engine    *Engine

	log *zap.Logger
}

// NewRuntime composes a pipeline over devices.
func NewRuntime(devices []ports.Device, opts ...RunOption) *Runtime {
	o := RunOptions{
		Engine: DefaultEngineConfig(),
		Progress: progress.Options{
			RegressionTolerance: 1500 * time.Millisecond,
			StaleAfter:          15 * time.Second,
		},
		BusCapacity:   DefaultBusCapacity,
		DeviceTimeout: DefaultDeviceTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Palette == nil {
		o.Palette = NewRandomPalette(time.Now().UnixNano(), nil)
	}

	bus := NewEventBus(o.BusCapacity)
	est := progress.NewEstimator(o.Progress)
	tick := o.Engine.TickInterval
	if tick <= 0 {
		tick = DefaultEngineConfig().TickInterval
	}
	gates := make([]*Gate, 0, len(devices))
	for _, d := range devices {
		gates = append(gates, NewGate(d, o.Logger,
			WithDeviceTimeout(o.DeviceTimeout),
			WithHoldMargin(2*tick),
			WithGateMetrics(o.Metrics),
			WithObservers(o.Observers...),
		))
	}
	engine := NewEngine(o.Engine, bus, est, gates, o.Palette, o.Logger, WithEngineMetrics(o.Metrics))

	return &Runtime{
		Bus:       bus,
		Estimator: est,
		Gates:     gates,
		Engine:    engine,
		log:       o.Logger,
	}
}

// Run starts the engine and the source. It returns nil once ctx is
// cancelled, or the source's error if it fails for good.
func (r *Runtime) Run(ctx context.Context, source EventSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = r.Engine.Run(ctx)
	}()

	err := source.Listen(ctx, r.Bus)
	cancel()
	<-engineDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Run composes a runtime over devices and runs it with source.
func Run(ctx context.Context, source EventSource, devices []ports.Device, opts ...RunOption) error {
	return NewRuntime(devices, opts...).Run(ctx, source)
}
