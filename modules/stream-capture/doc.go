// Package streamcapture provides camera frame acquisition.
//
// Three sources implement StreamProvider:
//
//   - GstStream: GStreamer pipelines for local cameras (v4l2src), IP cameras
//     (rtspsrc + H.264) and videotestsrc
//   - SyntheticStream: generated RGB gradients, no GStreamer required
//
// # Quick Start
//
//	devices := []streamcapture.Device{
//	    {Name: "back-camera", Path: "/dev/video0", Position: streamcapture.PositionBack},
//	}
//	dev, err := streamcapture.SelectDevice(devices, streamcapture.PositionBack)
//	if err != nil {
//	    return err // wraps ErrDeviceUnavailable
//	}
//	if err := (streamcapture.DeviceAccessGate{}).Request(ctx, dev); err != nil {
//	    return err // wraps ErrPermissionDenied
//	}
//
//	stream, err := streamcapture.NewGstStream(streamcapture.SourceConfig{
//	    Kind:        streamcapture.SourceV4L2,
//	    Device:      dev,
//	    Resolution:  streamcapture.Res720p,
//	    TargetFPS:   30,
//	    Orientation: streamcapture.OrientationPortrait,
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Stop()
//
//	frames, err := stream.Start(ctx) // wraps ErrSessionSetup on failure
//	if err != nil {
//	    return err
//	}
//	for frame := range frames {
//	    // frame.Data holds frame.Width x frame.Height RGB24 pixels
//	}
//	if err := stream.Err(); err != nil {
//	    // reconnection gave up, or the device went away
//	}
//
// # Delivery
//
// Frames are produced in order, one at a time. The appsink keeps a single
// buffer and the output channel holds one frame; when the consumer is busy the
// newest frame is dropped and counted in StreamStats.FramesDropped.
//
// # Errors
//
//   - ErrDeviceUnavailable: no camera at the requested position, or the
//     device node is missing. Fatal.
//   - ErrPermissionDenied: access to the camera was refused.
//   - ErrSessionSetup: the pipeline could not be built or started.
//
// Pipeline errors after a successful start are retried with exponential
// backoff (default 5 attempts, 1s doubling to 30s). A device that disappears
// mid-session is not retried.
package streamcapture
