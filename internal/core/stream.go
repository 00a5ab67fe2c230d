package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/filtercam/internal/config"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

// openStream resolves the camera, asks for access and creates the capture
// source. It does not start capture.
//
// Error policy, in order:
//   - no camera at the configured position: ErrDeviceUnavailable
//   - access refused: ErrPermissionDenied (no session is created)
//   - session cannot be built: ErrSessionSetup
func (fc *FilterCam) openStream(ctx context.Context) (streamcapture.StreamProvider, error) {
	cam := fc.cfg.Camera

	res, err := streamcapture.ParseResolution(cam.Resolution)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	orientation, err := streamcapture.ParseOrientation(cam.Orientation)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	if cam.Source == config.SourceSynthetic {
		w, h := res.Dimensions()
		stream, err := streamcapture.NewSyntheticStream(w, h, cam.FPS, orientation, fc.cfg.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		return stream, nil
	}

	src := streamcapture.SourceConfig{
		Resolution:           res,
		TargetFPS:            cam.FPS,
		Orientation:          orientation,
		SourceStream:         fc.cfg.InstanceID,
		MaxReconnectAttempts: cam.MaxReconnectAttempts,
	}

	gate := fc.opts.Gate
	switch cam.Source {
	case config.SourceV4L2:
		device, err := selectDevice(cam)
		if err != nil {
			return nil, err
		}
		if gate == nil {
			gate = streamcapture.DeviceAccessGate{}
		}
		if err := gate.Request(ctx, device); err != nil {
			return nil, fmt.Errorf("core: camera %s: %w", device.Name, err)
		}
		fc.mu.Lock()
		fc.device = device
		fc.mu.Unlock()
		src.Kind = streamcapture.SourceV4L2
		src.Device = device

	case config.SourceRTSP:
		src.Kind = streamcapture.SourceRTSP
		src.URL = cam.RTSPURL
		if gate != nil {
			if err := gate.Request(ctx, streamcapture.Device{Name: "rtsp", Path: cam.RTSPURL, Position: streamcapture.PositionExternal}); err != nil {
				return nil, fmt.Errorf("core: camera rtsp: %w", err)
			}
		}

	case config.SourceTest:
		src.Kind = streamcapture.SourceTestPattern

	default:
		return nil, fmt.Errorf("core: unknown camera source %q", cam.Source)
	}

	if fc.opts.NewStream != nil {
		stream, err := fc.opts.NewStream(src)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		return stream, nil
	}

	stream, err := streamcapture.NewGstStream(src)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	return stream, nil
}

// selectDevice returns the explicit camera.device, or the first configured
// device at camera.position.
func selectDevice(cam config.CameraConfig) (streamcapture.Device, error) {
	pos, err := streamcapture.ParsePosition(cam.Position)
	if err != nil {
		return streamcapture.Device{}, fmt.Errorf("core: %w", err)
	}

	if cam.Device != "" {
		return streamcapture.Device{Name: pos.String() + "-camera", Path: cam.Device, Position: pos}, nil
	}

	device, err := streamcapture.SelectDevice(cam.DeviceList(), pos)
	if err != nil {
		return streamcapture.Device{}, fmt.Errorf("core: %w", err)
	}
	slog.Info("core: camera selected", "name", device.Name, "path", device.Path, "position", device.Position.String())
	return device, nil
}
