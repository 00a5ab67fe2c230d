package streamcapture

import (
	"fmt"
	"strings"
)

// Position is where a camera faces relative to the device
type Position int

const (
	// PositionBack is the rear-facing camera (default)
	PositionBack Position = iota
	// PositionFront is the user-facing camera
	PositionFront
	// PositionExternal is a detachable or networked camera
	PositionExternal
)

// String returns the config name of the position
func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	case PositionExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParsePosition parses "back", "front" or "external"; empty means back
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "back":
		return PositionBack, nil
	case "front":
		return PositionFront, nil
	case "external":
		return PositionExternal, nil
	default:
		return PositionBack, fmt.Errorf("stream-capture: invalid camera position %q (must be back, front or external)", s)
	}
}

// Device describes one capture device known to the host
type Device struct {
	// Name is a human-readable label ("back-camera")
	Name string
	// Path is the device node (e.g., "/dev/video0")
	Path string
	// Position is where the camera faces
	Position Position
}

// SelectDevice returns the first device at the requested position.
//
// The selection is fixed for the lifetime of a session. If no device matches,
// the error wraps ErrDeviceUnavailable.
func SelectDevice(devices []Device, pos Position) (Device, error) {
	for _, d := range devices {
		if d.Position == pos {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("stream-capture: no %s camera among %d devices: %w", pos, len(devices), ErrDeviceUnavailable)
}
