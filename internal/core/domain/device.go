package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandKind distinguishes the two state changes a device understands.
type CommandKind string

const (
	CommandBrightness CommandKind = "brightness"
	CommandColor      CommandKind = "color"
)

// Outcome is what the gate did with a command.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeDropped    Outcome = "dropped"
	OutcomePreempted  Outcome = "preempted"
	OutcomeFailed     Outcome = "failed"
)

// Command is one lighting instruction for a device.
type Command struct {
	Kind       CommandKind
	Color      Color // ignored for CommandBrightness
	Brightness int
	Transition time.Duration
}

// DeviceState is the gate's record of what a device was last told.
// Last* values are only ever updated after a command has been confirmed.
type DeviceState struct {
	LastHue        int         `json:"last_hue"`
	LastSaturation int         `json:"last_saturation"`
	LastBrightness int         `json:"last_brightness"`
	Applied        bool        `json:"applied"`
	Busy           bool        `json:"busy"`
	InFlight       CommandKind `json:"in_flight,omitempty"`
}

// SameColor reports whether c and brightness match the last committed color command.
func (s DeviceState) SameColor(c Color, brightness int) bool {
	return s.Applied && s.LastHue == c.Hue && s.LastSaturation == c.Saturation && s.LastBrightness == brightness
}

// SameBrightness reports whether brightness matches the last committed value.
func (s DeviceState) SameBrightness(brightness int) bool {
	return s.Applied && s.LastBrightness == brightness
}

// CommandRecord is an audit entry for a single gate decision.
type CommandRecord struct {
	ID         uuid.UUID   `json:"id"`
	DeviceID   string      `json:"device_id"`
	Kind       CommandKind `json:"kind"`
	Hue        int         `json:"hue,omitempty"`
	Saturation int         `json:"saturation,omitempty"`
	Brightness int         `json:"brightness"`
	Transition int64       `json:"transition_ms"`
	Outcome    Outcome     `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}

// NewCommandRecord stamps cmd for deviceID with a fresh id.
func NewCommandRecord(deviceID string, cmd Command, outcome Outcome, err error, at time.Time) CommandRecord {
	rec := CommandRecord{
		ID:         uuid.New(),
		DeviceID:   deviceID,
		Kind:       cmd.Kind,
		Brightness: cmd.Brightness,
		Transition: cmd.Transition.Milliseconds(),
		Outcome:    outcome,
		At:         at,
	}
	if cmd.Kind == CommandColor {
		rec.Hue = cmd.Color.Hue
		rec.Saturation = cmd.Color.Saturation
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
