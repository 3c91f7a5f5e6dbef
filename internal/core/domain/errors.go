package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("domain: not found")
	ErrMissingTrackID = errors.New("domain: missing track id")
	ErrUnknownEvent   = errors.New("domain: unknown event")

	// ErrUpstreamData matches any UpstreamDataError.
	ErrUpstreamData = errors.New("domain: upstream data error")
	// ErrDeviceCommand matches any DeviceCommandError.
	ErrDeviceCommand = errors.New("domain: device command error")
)

// UpstreamDataError describes a malformed analysis item.
type UpstreamDataError struct {
	Kind   ItemKind
	Index  int
	Reason string
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("upstream data: %s[%d]: %s", e.Kind, e.Index, e.Reason)
}

func (e *UpstreamDataError) Is(target error) bool {
	return target == ErrUpstreamData
}

// DeviceCommandError wraps a transport failure talking to one device.
type DeviceCommandError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *DeviceCommandError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.DeviceID, e.Op, e.Err)
}

func (e *DeviceCommandError) Unwrap() error {
	return e.Err
}

func (e *DeviceCommandError) Is(target error) bool {
	return target == ErrDeviceCommand
}
