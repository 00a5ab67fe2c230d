// Package config loads the filtercam YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/filtercam/modules/filter"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Capture sources.
const (
	SourceV4L2      = "v4l2"
	SourceRTSP      = "rtsp"
	SourceTest      = "test"      // GStreamer videotestsrc
	SourceSynthetic = "synthetic" // in-process gradient, no GStreamer
)

// Log levels and formats.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the complete filtercam configuration.
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // default 5
	Camera           CameraConfig  `yaml:"camera"`
	Filter           FilterConfig  `yaml:"filter"`
	Display          DisplayConfig `yaml:"display"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Log              LogConfig     `yaml:"log"`
}

// CameraConfig selects and configures the capture source.
type CameraConfig struct {
	Source      string         `yaml:"source"`   // v4l2, rtsp, test, synthetic
	Position    string         `yaml:"position"` // back, front, external
	Device      string         `yaml:"device"`   // explicit device node, overrides devices/position
	Devices     []DeviceConfig `yaml:"devices"`
	RTSPURL     string         `yaml:"rtsp_url"`
	Resolution  string         `yaml:"resolution"` // 480p, 512p, 720p, 1080p
	FPS         float64        `yaml:"fps"`
	Orientation string         `yaml:"orientation"` // sensor orientation

	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// DeviceConfig is one camera known to the host.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Position string `yaml:"position"`
}

// FilterConfig holds the filter applied at startup.
type FilterConfig struct {
	Default string `yaml:"default"`
}

// DisplayConfig configures where processed frames go.
type DisplayConfig struct {
	Listen       string `yaml:"listen"` // web viewer, empty disables
	JPEGQuality  int    `yaml:"jpeg_quality"`
	MaxWidth     int    `yaml:"max_width"`
	Pipe         string `yaml:"pipe"`       // msgpack record stream, "-" for stdout
	OutputDir    string `yaml:"output_dir"` // save every frame
	OutputFormat string `yaml:"output_format"`
}

// MQTTConfig contains MQTT control plane settings. Empty broker disables it.
type MQTTConfig struct {
	Broker          string     `yaml:"broker"`
	Topics          MQTTTopics `yaml:"topics"`
	QoS             byte       `yaml:"qos"`
	StatusIntervalS int        `yaml:"status_interval_s"`
}

// MQTTTopics contains the control plane topics.
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"`
	Status    string `yaml:"status"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a validated configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w: %w", ErrInvalid, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFilter returns filter.default from the file at path.
func LoadFilter(path string) (filter.Kind, error) {
	cfg, err := Load(path)
	if err != nil {
		return 0, err
	}
	return filter.ParseKind(cfg.Filter.Default)
}
