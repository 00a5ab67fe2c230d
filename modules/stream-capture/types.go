package streamcapture

import (
	"fmt"
	"strings"
	"time"
)

// Frame represents a single raw video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format describes the layout of Data
	Format PixelFormat
	// Orientation is the sensor orientation reported with the frame
	Orientation Orientation
	// Data contains the raw pixel buffer
	Data []byte
	// SourceStream identifies the source (e.g., "back-camera")
	SourceStream string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// PixelFormat is the memory layout of Frame.Data
type PixelFormat int

const (
	// FormatRGB24 is interleaved RGB, 3 bytes per pixel (GStreamer "RGB")
	FormatRGB24 PixelFormat = iota
	// FormatRGBA32 is interleaved RGBA, 4 bytes per pixel (GStreamer "RGBA")
	FormatRGBA32
)

// BytesPerPixel returns the pixel stride of the format, or 0 if unknown
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB24:
		return 3
	case FormatRGBA32:
		return 4
	default:
		return 0
	}
}

// String returns the GStreamer caps name of the format
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB24:
		return "RGB"
	case FormatRGBA32:
		return "RGBA"
	default:
		return "unknown"
	}
}

// Orientation describes how the sensor image relates to an upright portrait view
type Orientation int

const (
	// OrientationPortrait is upright, no rotation needed
	OrientationPortrait Orientation = iota
	// OrientationPortraitUpsideDown needs a half turn
	OrientationPortraitUpsideDown
	// OrientationLandscapeRight has the top of the scene on the left edge
	// of the buffer; needs a quarter turn clockwise
	OrientationLandscapeRight
	// OrientationLandscapeLeft has the top of the scene on the right edge
	// of the buffer; needs a quarter turn counter-clockwise
	OrientationLandscapeLeft
)

// String returns the config name of the orientation
func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait-upside-down"
	case OrientationLandscapeRight:
		return "landscape-right"
	case OrientationLandscapeLeft:
		return "landscape-left"
	default:
		return "portrait"
	}
}

// ParseOrientation parses a config name; empty means portrait
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "portrait":
		return OrientationPortrait, nil
	case "portrait-upside-down":
		return OrientationPortraitUpsideDown, nil
	case "landscape-right":
		return OrientationLandscapeRight, nil
	case "landscape-left":
		return OrientationLandscapeLeft, nil
	default:
		return OrientationPortrait, fmt.Errorf("stream-capture: invalid orientation %q", s)
	}
}

// StreamStats contains current stream statistics
type StreamStats struct {
	// FrameCount is the total number of frames captured
	FrameCount uint64
	// FramesDropped is the total number of frames dropped (channel full)
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// FPSTarget is the configured target FPS
	FPSTarget float64
	// FPSReal is the measured real FPS
	FPSReal float64
	// LatencyMS is the time since last frame in milliseconds
	LatencyMS int64
	// SourceStream identifies the source
	SourceStream string
	// Resolution is the frame resolution (e.g., "1280x720")
	Resolution string
	// Reconnects is the number of reconnection attempts
	Reconnects uint32
	// BytesRead is the total bytes read from the source
	BytesRead uint64
	// IsConnected indicates if the source is currently running
	IsConnected bool

	// Error telemetry by category
	ErrorsNetwork uint64
	ErrorsCodec   uint64
	ErrorsAuth    uint64
	ErrorsDevice  uint64
	ErrorsUnknown uint64
}

// Resolution represents supported video resolutions
type Resolution int

const (
	// Res720p represents 1280x720 resolution (HD, default capture preset)
	Res720p Resolution = iota
	// Res480p represents 640x480 resolution (VGA)
	Res480p
	// Res512p represents 910x512 resolution
	Res512p
	// Res1080p represents 1920x1080 resolution (Full HD)
	Res1080p
)

// Dimensions returns the width and height for the resolution
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res512p:
		return 910, 512
	case Res720p:
		return 1280, 720
	case Res1080p:
		return 1920, 1080
	default:
		// Safe default: 720p
		return 1280, 720
	}
}

// String returns a human-readable string representation of the resolution
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res512p:
		return "512p"
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	default:
		return "720p"
	}
}

// ParseResolution parses "480p", "512p", "720p" or "1080p"; empty means 720p
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "720p":
		return Res720p, nil
	case "480p":
		return Res480p, nil
	case "512p":
		return Res512p, nil
	case "1080p":
		return Res1080p, nil
	default:
		return Res720p, fmt.Errorf("stream-capture: invalid resolution %q (must be 480p, 512p, 720p or 1080p)", s)
	}
}

// SourceKind selects the GStreamer source element
type SourceKind int

const (
	// SourceV4L2 captures from a local camera device (v4l2src)
	SourceV4L2 SourceKind = iota
	// SourceRTSP captures from an IP camera (rtspsrc, H.264)
	SourceRTSP
	// SourceTestPattern uses GStreamer's videotestsrc
	SourceTestPattern
)

// String returns the config name of the source kind
func (k SourceKind) String() string {
	switch k {
	case SourceV4L2:
		return "v4l2"
	case SourceRTSP:
		return "rtsp"
	case SourceTestPattern:
		return "test"
	default:
		return "unknown"
	}
}

// SourceConfig contains configuration for a GStreamer capture source
type SourceConfig struct {
	// Kind selects the source element
	Kind SourceKind
	// Device is the camera device node (SourceV4L2 only)
	Device Device
	// URL is the RTSP stream URL (SourceRTSP only)
	URL string
	// Resolution is the target video resolution
	Resolution Resolution
	// TargetFPS is the target frames per second (0.1 - 60.0)
	TargetFPS float64
	// Orientation is the sensor orientation stamped on every frame
	Orientation Orientation
	// SourceStream identifies the source in frames and logs
	SourceStream string

	// Reconnection (zero values use defaults)
	MaxReconnectAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}
