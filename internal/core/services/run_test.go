package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

func TestRun_DrivesDevicesUntilCancelled(t *testing.T) {
	dev := newMockDevice("bulb")
	src := &scriptedSource{events: []domain.Event{
		domain.SongChanged{
			Analysis: domain.AudioAnalysis{
				TrackID: "t1",
				Bars: []domain.TimedItem{
					{Start: 0, Duration: 0.1, Confidence: 0.9},
					{Start: 0.1, Duration: 0.1, Confidence: 0.9},
				},
			},
			Progress:  80 * time.Millisecond,
			SampledAt: time.Now(),
		},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, src, []ports.Device{dev}, WithBusCapacity(1))
	}()

	select {
	case <-dev.started:
	case <-time.After(2 * time.Second):
		t.Fatal("no device command issued")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_ReturnsFatalSourceError(t *testing.T) {
	fatal := errors.New("listener: unauthorized")
	src := &scriptedSource{err: fatal}

	err := Run(context.Background(), src, nil)
	if !errors.Is(err, fatal) {
		t.Fatalf("got %v, want %v", err, fatal)
	}
}

func TestNewRuntime_OneGatePerDevice(t *testing.T) {
	rt := NewRuntime([]ports.Device{newMockDevice("a"), newMockDevice("b")}, WithBusCapacity(3))
	if len(rt.Gates) != 2 || len(rt.Engine.Gates()) != 2 {
		t.Fatalf("gates: got %d", len(rt.Gates))
	}
	if rt.Bus.Cap() != 3 {
		t.Fatalf("bus cap: got %d, want 3", rt.Bus.Cap())
	}
	if rt.Gates[1].DeviceID() != "b" {
		t.Fatalf("gate order not preserved")
	}
}

// --- Mocks ---

// scriptedSource publishes its events, then either fails or waits for cancellation.
type scriptedSource struct {
	events []domain.Event
	err    error
}

func (s *scriptedSource) Listen(ctx context.Context, bus *EventBus) error {
	for _, ev := range s.events {
		if err := bus.Publish(ctx, ev); err != nil {
			return nil
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}
