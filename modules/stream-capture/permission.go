package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// PermissionGate decides whether the process may use a camera
//
// Request is consulted once before the capture session is created. A refusal
// wraps ErrPermissionDenied; no frames flow after a refusal.
type PermissionGate interface {
	Request(ctx context.Context, d Device) error
}

// PermissionFunc adapts a function to PermissionGate
type PermissionFunc func(ctx context.Context, d Device) error

// Request calls f(ctx, d)
func (f PermissionFunc) Request(ctx context.Context, d Device) error {
	return f(ctx, d)
}

// AllowAll grants every request. Used for synthetic and network sources.
type AllowAll struct{}

// Request always succeeds
func (AllowAll) Request(context.Context, Device) error { return nil }

// DeviceAccessGate checks read/write access to the device node, the host
// equivalent of the OS camera prompt.
type DeviceAccessGate struct{}

// Request checks access(2) on the device path
//
// EACCES and EPERM map to ErrPermissionDenied, ENOENT and ENODEV to
// ErrDeviceUnavailable.
func (DeviceAccessGate) Request(ctx context.Context, d Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Path == "" {
		return fmt.Errorf("stream-capture: device %q has no path: %w", d.Name, ErrDeviceUnavailable)
	}

	err := unix.Access(d.Path, unix.R_OK|unix.W_OK)
	switch {
	case err == nil:
		slog.Debug("stream-capture: camera access granted", "device", d.Name, "path", d.Path)
		return nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		slog.Warn("stream-capture: camera access denied", "device", d.Name, "path", d.Path)
		return fmt.Errorf("stream-capture: %s: %w", d.Path, ErrPermissionDenied)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("stream-capture: %s: %w", d.Path, ErrDeviceUnavailable)
	default:
		return fmt.Errorf("stream-capture: access check %s: %w", d.Path, err)
	}
}
