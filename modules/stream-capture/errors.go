package streamcapture

import "errors"

var (
	// ErrDeviceUnavailable is returned when no camera matches the required
	// position, or the device node cannot be opened. Fatal at startup.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrPermissionDenied is returned by a PermissionGate when camera access
	// is refused. No frames will ever flow.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrSessionSetup is returned when the capture pipeline cannot be built
	// or started.
	ErrSessionSetup = errors.New("capture session setup failed")
)
