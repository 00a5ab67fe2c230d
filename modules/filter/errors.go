package filter

import "errors"

// ErrFilterUnavailable is returned when a named transform does not exist or
// produced no usable output. It is a per-frame error: drop the frame and
// carry on.
var ErrFilterUnavailable = errors.New("filter unavailable")
