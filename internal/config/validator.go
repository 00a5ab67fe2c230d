package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/filtercam/modules/display"
	"github.com/e7canasta/filtercam/modules/filter"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks cfg and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "filtercam"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return invalid("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return err
	}

	if cfg.Filter.Default == "" {
		cfg.Filter.Default = filter.Sepia.String()
	}
	kind, err := filter.ParseKind(cfg.Filter.Default)
	if err != nil {
		return invalid("filter.default: %v", err)
	}
	cfg.Filter.Default = kind.String()

	if err := validateDisplay(&cfg.Display); err != nil {
		return err
	}

	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("filtercam/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = fmt.Sprintf("filtercam/responses/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("filtercam/status/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS > 2 {
		return invalid("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.StatusIntervalS <= 0 {
		cfg.MQTT.StatusIntervalS = 30
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = LogLevelInfo
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return invalid("log.level %q (must be debug, info, warn or error)", cfg.Log.Level)
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = LogFormatText
	case LogFormatText, LogFormatJSON:
	default:
		return invalid("log.format %q (must be text or json)", cfg.Log.Format)
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	c.Source = strings.ToLower(c.Source)
	switch c.Source {
	case "":
		c.Source = SourceV4L2
	case SourceV4L2, SourceRTSP, SourceTest, SourceSynthetic:
	default:
		return invalid("camera.source %q (must be v4l2, rtsp, test or synthetic)", c.Source)
	}
	if c.Source == SourceRTSP && c.RTSPURL == "" {
		return invalid("camera.rtsp_url is required for rtsp source")
	}

	pos, err := streamcapture.ParsePosition(c.Position)
	if err != nil {
		return invalid("camera.position: %v", err)
	}
	c.Position = pos.String()

	if len(c.Devices) == 0 {
		c.Devices = []DeviceConfig{
			{Name: "back-camera", Path: "/dev/video0", Position: "back"},
			{Name: "front-camera", Path: "/dev/video1", Position: "front"},
		}
	}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Path == "" {
			return invalid("camera.devices[%d].path is required", i)
		}
		p, err := streamcapture.ParsePosition(d.Position)
		if err != nil {
			return invalid("camera.devices[%d].position: %v", i, err)
		}
		d.Position = p.String()
		if d.Name == "" {
			d.Name = d.Position + "-camera"
		}
	}

	res, err := streamcapture.ParseResolution(c.Resolution)
	if err != nil {
		return invalid("camera.resolution: %v", err)
	}
	c.Resolution = res.String()

	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.FPS < 0.1 || c.FPS > 60 {
		return invalid("camera.fps %.2f (must be 0.1-60)", c.FPS)
	}

	o, err := streamcapture.ParseOrientation(c.Orientation)
	if err != nil {
		return invalid("camera.orientation: %v", err)
	}
	c.Orientation = o.String()

	if c.MaxReconnectAttempts < 0 {
		return invalid("camera.max_reconnect_attempts must be >= 0")
	}
	return nil
}

func validateDisplay(d *DisplayConfig) error {
	if d.JPEGQuality == 0 {
		d.JPEGQuality = 80
	}
	if d.JPEGQuality < 1 || d.JPEGQuality > 100 {
		return invalid("display.jpeg_quality %d (must be 1-100)", d.JPEGQuality)
	}
	if d.MaxWidth < 0 {
		return invalid("display.max_width must be >= 0")
	}

	d.OutputFormat = strings.ToLower(d.OutputFormat)
	switch d.OutputFormat {
	case "":
		d.OutputFormat = display.FormatPNG
	case "jpg":
		d.OutputFormat = display.FormatJPEG
	case display.FormatPNG, display.FormatJPEG:
	default:
		return invalid("display.output_format %q (must be png or jpeg)", d.OutputFormat)
	}
	return nil
}

// DeviceList converts the configured devices for stream-capture.
func (c CameraConfig) DeviceList() []streamcapture.Device {
	out := make([]streamcapture.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		pos, _ := streamcapture.ParsePosition(d.Position)
		out = append(out, streamcapture.Device{Name: d.Name, Path: d.Path, Position: pos})
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
