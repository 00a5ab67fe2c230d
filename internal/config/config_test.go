package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/filtercam/modules/filter"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "filtercam", cfg.InstanceID)
	assert.Equal(t, SourceV4L2, cfg.Camera.Source)
	assert.Equal(t, "back", cfg.Camera.Position)
	assert.Equal(t, "720p", cfg.Camera.Resolution)
	assert.Equal(t, 30.0, cfg.Camera.FPS)
	assert.Equal(t, "portrait", cfg.Camera.Orientation)
	assert.Len(t, cfg.Camera.Devices, 2)
	assert.Equal(t, "sepia", cfg.Filter.Default)
	assert.Equal(t, 80, cfg.Display.JPEGQuality)
	assert.Equal(t, "png", cfg.Display.OutputFormat)
	assert.Equal(t, "filtercam/control/filtercam", cfg.MQTT.Topics.Control)
	assert.Equal(t, "filtercam/responses/filtercam", cfg.MQTT.Topics.Responses)
	assert.Equal(t, LogLevelInfo, cfg.Log.Level)
	assert.Equal(t, LogFormatText, cfg.Log.Format)
	assert.Equal(t, 5, cfg.ShutdownTimeoutS)
}

func TestParse_Full(t *testing.T) {
	data := []byte(`
instance_id: kitchen-cam
camera:
  source: rtsp
  rtsp_url: rtsp://10.0.0.5/stream
  resolution: 1080p
  fps: 15
  orientation: landscape-right
filter:
  default: CIPhotoEffectNoir
display:
  listen: ":9090"
  jpeg_quality: 60
  max_width: 640
  output_format: jpg
mqtt:
  broker: localhost:1883
  qos: 1
log:
  level: DEBUG
  format: json
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, SourceRTSP, cfg.Camera.Source)
	assert.Equal(t, "1080p", cfg.Camera.Resolution)
	assert.Equal(t, 15.0, cfg.Camera.FPS)
	assert.Equal(t, "landscape-right", cfg.Camera.Orientation)
	assert.Equal(t, "noir", cfg.Filter.Default, "transform names normalise to the short name")
	assert.Equal(t, "jpeg", cfg.Display.OutputFormat)
	assert.Equal(t, "filtercam/control/kitchen-cam", cfg.MQTT.Topics.Control)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, LogLevelDebug, cfg.Log.Level)
	assert.Equal(t, LogFormatJSON, cfg.Log.Format)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad instance id", "instance_id: Kitchen_Cam"},
		{"unknown source", "camera: {source: usb}"},
		{"rtsp without url", "camera: {source: rtsp}"},
		{"bad position", "camera: {position: left}"},
		{"device without path", "camera: {devices: [{name: x}]}"},
		{"bad resolution", "camera: {resolution: 4k}"},
		{"fps too high", "camera: {fps: 120}"},
		{"bad orientation", "camera: {orientation: sideways}"},
		{"unknown filter", "filter: {default: vivid}"},
		{"jpeg quality", "display: {jpeg_quality: 101}"},
		{"output format", "display: {output_format: gif}"},
		{"qos", "mqtt: {qos: 3}"},
		{"log level", "log: {level: trace}"},
		{"log format", "log: {format: xml}"},
		{"not yaml", "camera: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCameraConfig_DeviceList(t *testing.T) {
	cfg, err := Parse([]byte(`
camera:
  position: front
  devices:
    - {path: /dev/video2, position: external}
    - {name: selfie, path: /dev/video4, position: front}
`))
	require.NoError(t, err)

	devices := cfg.Camera.DeviceList()
	require.Len(t, devices, 2)
	assert.Equal(t, "external-camera", devices[0].Name)

	pos, err := streamcapture.ParsePosition(cfg.Camera.Position)
	require.NoError(t, err)
	d, err := streamcapture.SelectDevice(devices, pos)
	require.NoError(t, err)
	assert.Equal(t, "/dev/video4", d.Path)
}

func TestLoadFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtercam.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter:\n  default: comic\n"), 0o644))

	kind, err := LoadFilter(path)
	require.NoError(t, err)
	assert.Equal(t, filter.ComicEffect, kind)

	_, err = LoadFilter(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
