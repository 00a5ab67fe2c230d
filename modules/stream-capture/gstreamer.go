package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/filtercam/modules/stream-capture/internal/gstsrc"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstStream implements StreamProvider on a GStreamer pipeline
//
// The pipeline ends in an appsink that keeps one buffer and drops the rest,
// and frames leave GStreamer through a one-slot channel with a non-blocking
// send. A consumer that is still busy with the previous frame therefore sees
// the next frame that arrives after it is free, never a backlog.
type GstStream struct {
	// Configuration
	kind         SourceKind
	device       Device
	url          string
	width        int
	height       int
	targetFPS    float64
	orientation  Orientation
	sourceStream string

	// Pipeline of the current session
	elements *gstsrc.PipelineElements

	// Frame output
	frames   chan Frame
	internal chan gstsrc.Frame
	mu       sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics (atomic for thread-safety)
	frameCount    uint64
	framesDropped uint64
	bytesRead     uint64
	started       time.Time
	lastFrameAt   atomic.Int64

	// Error telemetry
	errorsNetwork atomic.Uint64
	errorsCodec   atomic.Uint64
	errorsAuth    atomic.Uint64
	errorsDevice  atomic.Uint64
	errorsUnknown atomic.Uint64

	reconnectState *gstsrc.ReconnectState
	reconnectCfg   gstsrc.ReconnectConfig

	framesClosed atomic.Bool
	failure      atomic.Pointer[error]
}

// NewGstStream creates a GStreamer capture source with fail-fast validation
//
// Validates configuration at construction time:
//   - Target FPS must be between 0.1 and 60.0
//   - v4l2 sources need an existing device node (else ErrDeviceUnavailable)
//   - rtsp sources need a URL
//   - GStreamer must be installed (else ErrSessionSetup)
func NewGstStream(cfg SourceConfig) (*GstStream, error) {
	if cfg.TargetFPS < 0.1 || cfg.TargetFPS > 60 {
		return nil, fmt.Errorf("stream-capture: invalid FPS %.2f (must be 0.1-60)", cfg.TargetFPS)
	}

	width, height := cfg.Resolution.Dimensions()

	switch cfg.Kind {
	case SourceV4L2:
		if cfg.Device.Path == "" {
			return nil, fmt.Errorf("stream-capture: v4l2 source requires a device path: %w", ErrDeviceUnavailable)
		}
		if _, err := os.Stat(cfg.Device.Path); err != nil {
			return nil, fmt.Errorf("stream-capture: %s: %w", cfg.Device.Path, ErrDeviceUnavailable)
		}
	case SourceRTSP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("stream-capture: RTSP URL is required")
		}
	case SourceTestPattern:
	default:
		return nil, fmt.Errorf("stream-capture: unknown source kind %d", cfg.Kind)
	}

	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("stream-capture: GStreamer not available: %v: %w", err, ErrSessionSetup)
	}

	reconnectCfg := gstsrc.DefaultReconnectConfig()
	if cfg.MaxReconnectAttempts > 0 {
		reconnectCfg.MaxRetries = cfg.MaxReconnectAttempts
	}
	if cfg.ReconnectInitialDelay > 0 {
		reconnectCfg.RetryDelay = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		reconnectCfg.MaxRetryDelay = cfg.ReconnectMaxDelay
	}

	sourceStream := cfg.SourceStream
	if sourceStream == "" {
		sourceStream = cfg.Device.Name
	}
	if sourceStream == "" {
		sourceStream = cfg.Kind.String()
	}

	s := &GstStream{
		kind:           cfg.Kind,
		device:         cfg.Device,
		url:            cfg.URL,
		width:          width,
		height:         height,
		targetFPS:      cfg.TargetFPS,
		orientation:    cfg.Orientation,
		sourceStream:   sourceStream,
		reconnectCfg:   reconnectCfg,
		reconnectState: &gstsrc.ReconnectState{},
	}

	slog.Info("stream-capture: stream created",
		"source", cfg.Kind.String(),
		"device", cfg.Device.Path,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"target_fps", cfg.TargetFPS,
		"orientation", cfg.Orientation.String(),
		"source_stream", sourceStream,
	)

	return s, nil
}

func (s *GstStream) pipelineConfig() gstsrc.PipelineConfig {
	return gstsrc.PipelineConfig{
		Source:    s.kind.String(),
		Device:    s.device.Path,
		URL:       s.url,
		Width:     s.width,
		Height:    s.height,
		TargetFPS: s.targetFPS,
		Format:    FormatRGB24.String(),
	}
}

// Start builds the pipeline, sets it PLAYING and returns the frame channel
//
// Failure to build or start the pipeline is reported here, wrapped in
// ErrSessionSetup, rather than discovered later as a silent lack of frames.
// Errors after a successful start go through bounded reconnection; if that
// gives up, the frame channel is closed and Err reports why.
func (s *GstStream) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("stream-capture: stream already started")
	}

	s.frames = make(chan Frame, 1)
	s.internal = make(chan gstsrc.Frame, 1)
	s.framesClosed.Store(false)
	s.failure.Store(nil)

	elements, err := s.startSession()
	if err != nil {
		return nil, err
	}
	s.elements = elements

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	s.wg.Add(2)
	go s.forwardFrames(s.ctx, s.frames)
	go s.runPipeline(s.ctx, s.cancel)

	slog.Info("stream-capture: stream started",
		"source", s.kind.String(),
		"source_stream", s.sourceStream,
		"note", "frames will arrive asynchronously once pipeline reaches PLAYING state",
	)

	return s.frames, nil
}

// startSession builds a pipeline, wires the appsink callback and sets it
// PLAYING. Caller holds s.mu.
func (s *GstStream) startSession() (*gstsrc.PipelineElements, error) {
	elements, err := gstsrc.CreatePipeline(s.pipelineConfig())
	if err != nil {
		return nil, fmt.Errorf("stream-capture: failed to create pipeline: %v: %w", err, ErrSessionSetup)
	}

	callbackCtx := &gstsrc.CallbackContext{
		FrameChan:     s.internal,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		Width:         s.width,
		Height:        s.height,
		SourceStream:  s.sourceStream,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstsrc.OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = gstsrc.DestroyPipeline(elements)
		return nil, fmt.Errorf("stream-capture: failed to start pipeline: %v: %w", err, ErrSessionSetup)
	}

	return elements, nil
}

// forwardFrames converts internal frames to public ones, stamping format and
// orientation. Non-blocking: a busy consumer loses the frame. The forwarder
// is the only sender on out, so it closes out when it exits.
func (s *GstStream) forwardFrames(ctx context.Context, out chan Frame) {
	defer s.wg.Done()
	defer s.closeFrames(out)

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.internal:
			frame := Frame{
				Seq:          f.Seq,
				Timestamp:    f.Timestamp,
				Width:        f.Width,
				Height:       f.Height,
				Format:       FormatRGB24,
				Orientation:  s.orientation,
				Data:         f.Data,
				SourceStream: f.SourceStream,
				TraceID:      f.TraceID,
			}
			s.lastFrameAt.Store(f.Timestamp.UnixNano())

			select {
			case out <- frame:
			default:
				atomic.AddUint64(&s.framesDropped, 1)
				slog.Debug("stream-capture: dropping frame, consumer busy",
					"seq", frame.Seq,
					"trace_id", frame.TraceID,
				)
			}
		}
	}
}

// runPipeline monitors the running session and rebuilds the pipeline with
// exponential backoff when it fails. Giving up cancels the session, which
// closes the frame channel.
func (s *GstStream) runPipeline(ctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()

	first := true
	connectFn := func(ctx context.Context) error {
		if !first {
			s.mu.Lock()
			_ = gstsrc.DestroyPipeline(s.elements)
			elements, err := s.startSession()
			s.elements = elements
			s.mu.Unlock()
			if err != nil {
				return err
			}
		}
		first = false
		return s.monitorPipeline(ctx)
	}

	err := gstsrc.RunWithReconnect(ctx, connectFn, s.reconnectCfg, s.reconnectState)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	slog.Error("stream-capture: pipeline stopped after reconnection failure",
		"error", err,
		"source_stream", s.sourceStream,
		"uptime", time.Since(s.started),
		"frames_processed", atomic.LoadUint64(&s.frameCount),
		"reconnects", s.reconnectState.Reconnects.Load(),
	)
	s.failure.Store(&err)
	cancel()
}

// monitorPipeline polls the bus until the context is cancelled (nil) or the
// pipeline reports an error or end of stream.
func (s *GstStream) monitorPipeline(ctx context.Context) error {
	s.mu.RLock()
	elements := s.elements
	s.mu.RUnlock()
	if elements == nil || elements.Pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := elements.Pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("stream-capture: end of stream received",
				"source_stream", s.sourceStream,
				"frames_processed", atomic.LoadUint64(&s.frameCount),
			)
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := gstsrc.ClassifyGStreamerError(gerr)
			s.countError(category)

			slog.Error("stream-capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"source_stream", s.sourceStream,
				"uptime", time.Since(s.started),
				"reconnects", s.reconnectState.Reconnects.Load(),
			)

			// A camera that disappeared or was locked out will not come
			// back by rebuilding the pipeline.
			switch {
			case category == gstsrc.ErrCategoryDevice && s.kind == SourceV4L2:
				return gstsrc.Permanent(fmt.Errorf("stream-capture: %s: %s: %w", s.device.Path, gerr.Error(), ErrDeviceUnavailable))
			case category == gstsrc.ErrCategoryAuth && s.kind == SourceV4L2:
				return gstsrc.Permanent(fmt.Errorf("stream-capture: %s: %s: %w", s.device.Path, gerr.Error(), ErrPermissionDenied))
			}
			return fmt.Errorf("pipeline error [%s]: %s", category.String(), gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == elements.Pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					s.reconnectState.Reset()
					slog.Debug("stream-capture: pipeline playing, reconnect state reset")
				}
			}
		}
	}
}

func (s *GstStream) countError(category gstsrc.ErrorCategory) {
	switch category {
	case gstsrc.ErrCategoryNetwork:
		s.errorsNetwork.Add(1)
	case gstsrc.ErrCategoryCodec:
		s.errorsCodec.Add(1)
	case gstsrc.ErrCategoryAuth:
		s.errorsAuth.Add(1)
	case gstsrc.ErrCategoryDevice:
		s.errorsDevice.Add(1)
	default:
		s.errorsUnknown.Add(1)
	}
}

func (s *GstStream) closeFrames(out chan Frame) {
	if s.framesClosed.CompareAndSwap(false, true) {
		close(out)
	}
}

// Stop gracefully stops the stream. Safe to call multiple times.
func (s *GstStream) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		slog.Debug("stream-capture: stream not started, nothing to stop")
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	slog.Info("stream-capture: stopping stream", "source_stream", s.sourceStream)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("stream-capture: stop timeout exceeded, some goroutines may still be running")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := gstsrc.DestroyPipeline(s.elements); err != nil {
		slog.Error("stream-capture: failed to destroy pipeline", "error", err)
	}
	s.elements = nil
	s.closeFrames(s.frames)

	slog.Info("stream-capture: stream stopped",
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"frames_dropped", atomic.LoadUint64(&s.framesDropped),
		"reconnects", s.reconnectState.Reconnects.Load(),
		"uptime", time.Since(s.started),
	)

	s.cancel = nil
	s.ctx = nil
	return nil
}

// Err returns the terminal error that closed the frame channel, or nil.
func (s *GstStream) Err() error {
	if p := s.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns current stream statistics (thread-safe)
func (s *GstStream) Stats() StreamStats {
	s.mu.RLock()
	started := s.started
	isConnected := s.elements != nil && s.cancel != nil
	targetFPS := s.targetFPS
	s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	framesDropped := atomic.LoadUint64(&s.framesDropped)

	var fpsReal float64
	if !started.IsZero() {
		if uptime := time.Since(started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount) / uptime
		}
	}

	var dropRate float64
	if frameCount > 0 {
		dropRate = float64(framesDropped) / float64(frameCount) * 100.0
		if dropRate > 100 {
			dropRate = 100
		}
	}

	var latencyMS int64
	if last := s.lastFrameAt.Load(); last != 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return StreamStats{
		FrameCount:    frameCount,
		FramesDropped: framesDropped,
		DropRate:      dropRate,
		FPSTarget:     targetFPS,
		FPSReal:       fpsReal,
		LatencyMS:     latencyMS,
		SourceStream:  s.sourceStream,
		Resolution:    fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:    s.reconnectState.Reconnects.Load(),
		BytesRead:     atomic.LoadUint64(&s.bytesRead),
		IsConnected:   isConnected,
		ErrorsNetwork: s.errorsNetwork.Load(),
		ErrorsCodec:   s.errorsCodec.Load(),
		ErrorsAuth:    s.errorsAuth.Load(),
		ErrorsDevice:  s.errorsDevice.Load(),
		ErrorsUnknown: s.errorsUnknown.Load(),
	}
}

// SetTargetFPS updates the capsfilter framerate without restarting. The new
// rate also applies to sessions rebuilt by reconnection.
func (s *GstStream) SetTargetFPS(fps float64) error {
	if fps < 0.1 || fps > 60 {
		return fmt.Errorf("stream-capture: invalid FPS %.2f (must be 0.1-60)", fps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.elements == nil || s.elements.CapsFilter == nil {
		return fmt.Errorf("stream-capture: stream not running")
	}

	if err := gstsrc.UpdateFramerateCaps(s.elements.CapsFilter, FormatRGB24.String(), fps, s.width, s.height); err != nil {
		return fmt.Errorf("stream-capture: failed to update FPS: %w", err)
	}

	slog.Info("stream-capture: target FPS updated", "old_fps", s.targetFPS, "new_fps", fps)
	s.targetFPS = fps
	return nil
}

// checkGStreamerAvailable verifies GStreamer can instantiate an element
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return nil
}
