package gstsrc

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Element names used in the launch description so the elements can be
// looked up after parsing.
const (
	SinkName = "filtercam-sink"
	CapsName = "filtercam-caps"
)

// Source kinds understood by BuildLaunch.
const (
	SourceV4L2 = "v4l2"
	SourceRTSP = "rtsp"
	SourceTest = "test"
)

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	Source    string // v4l2, rtsp or test
	Device    string // device node for v4l2
	URL       string // stream URL for rtsp
	Width     int
	Height    int
	TargetFPS float64
	Format    string // raw caps format, "RGB" or "RGBA"
}

// PipelineElements holds references to the elements the stream needs after
// the pipeline is built.
type PipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	CapsFilter *gst.Element
	Launch     string
}

// BuildLaunch renders the gst-launch description for cfg.
//
// Every source ends in the same tail:
//
//	videoconvert ! videoscale ! videorate ! capsfilter ! appsink
//
// The appsink keeps a single buffer and drops older ones, so a slow consumer
// never builds a queue inside GStreamer.
func BuildLaunch(cfg PipelineConfig) (string, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.TargetFPS <= 0 {
		return "", fmt.Errorf("invalid fps %.2f", cfg.TargetFPS)
	}
	format := cfg.Format
	if format == "" {
		format = "RGB"
	}

	var head string
	switch cfg.Source {
	case SourceV4L2:
		if cfg.Device == "" {
			return "", fmt.Errorf("v4l2 source requires a device")
		}
		head = fmt.Sprintf("v4l2src device=%s", quote(cfg.Device))
	case SourceRTSP:
		if cfg.URL == "" {
			return "", fmt.Errorf("rtsp source requires a URL")
		}
		// Low FPS benefits from minimal jitter buffering.
		latency := 200
		if cfg.TargetFPS <= 2.0 {
			latency = 50
		}
		head = fmt.Sprintf(
			"rtspsrc location=%s protocols=tcp latency=%d ntp-sync=false ! rtph264depay request-keyframe=true ! avdec_h264 max-threads=0 output-corrupt=false",
			quote(cfg.URL), latency,
		)
	case SourceTest:
		head = "videotestsrc is-live=true pattern=smpte"
	default:
		return "", fmt.Errorf("unknown source %q", cfg.Source)
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString(" ! videoconvert n-threads=0 ! videoscale ! videorate drop-only=true skip-to-first=true")
	fmt.Fprintf(&b, " ! capsfilter name=%s caps=%s", CapsName, quote(FramerateCaps(format, cfg.Width, cfg.Height, cfg.TargetFPS)))
	fmt.Fprintf(&b, " ! appsink name=%s sync=false max-buffers=1 drop=true qos=true", SinkName)
	return b.String(), nil
}

// CreatePipeline parses the launch description and resolves the named
// elements. The pipeline is NOT started (state remains NULL).
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	launch, err := BuildLaunch(cfg)
	if err != nil {
		return nil, err
	}

	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}

	sinkElem, err := pipeline.GetElementByName(SinkName)
	if err != nil {
		return nil, fmt.Errorf("appsink %q not found: %w", SinkName, err)
	}
	capsElem, err := pipeline.GetElementByName(CapsName)
	if err != nil {
		return nil, fmt.Errorf("capsfilter %q not found: %w", CapsName, err)
	}

	slog.Debug("stream-capture: pipeline created", "source", cfg.Source, "launch", launch)

	return &PipelineElements{
		Pipeline:   pipeline,
		AppSink:    app.SinkFromElement(sinkElem),
		CapsFilter: capsElem,
		Launch:     launch,
	}, nil
}

// UpdateFramerateCaps updates the capsfilter framerate without rebuilding
// the pipeline.
func UpdateFramerateCaps(capsfilter *gst.Element, format string, fps float64, width, height int) error {
	if capsfilter == nil {
		return fmt.Errorf("capsfilter is nil")
	}
	return capsfilter.SetProperty("caps", gst.NewCapsFromString(FramerateCaps(format, width, height, fps)))
}

// DestroyPipeline sets the pipeline to NULL and releases its resources.
// Safe to call with nil.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// FramerateCaps builds a raw video caps string with a framerate constraint
//
// Handles fractional framerates:
//   - fps >= 1.0: framerate = fps/1 (e.g., 5.0 → 5/1)
//   - fps < 1.0: framerate = 1/(1/fps) (e.g., 0.5 → 1/2)
func FramerateCaps(format string, width, height int, fps float64) string {
	numerator := 1
	denominator := 1

	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}

	return fmt.Sprintf(
		"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		format, width, height, numerator, denominator,
	)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
