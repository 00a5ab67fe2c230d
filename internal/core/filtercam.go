// Package core wires capture, filtering, display and control into the
// filtercam service.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/filtercam/internal/config"
	"github.com/e7canasta/filtercam/modules/control"
	"github.com/e7canasta/filtercam/modules/display"
	"github.com/e7canasta/filtercam/modules/filter"
	"github.com/e7canasta/filtercam/modules/framepipeline"
	"github.com/e7canasta/filtercam/modules/framesupplier"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

// Options tune how the service is assembled.
type Options struct {
	// ConfigPath enables the config watcher when set.
	ConfigPath string
	// Gate decides camera access. Defaults to DeviceAccessGate for v4l2
	// and AllowAll for other sources.
	Gate streamcapture.PermissionGate
	// NewStream builds the capture source for v4l2, rtsp and test sources
	// once device selection and the permission gate have passed. Defaults
	// to streamcapture.NewGstStream.
	NewStream func(src streamcapture.SourceConfig) (streamcapture.StreamProvider, error)
}

// FilterCam is the service orchestrator.
type FilterCam struct {
	cfg  *config.Config
	opts Options

	selector *filter.Selector
	pipeline *framepipeline.Pipeline
	supplier framesupplier.Supplier

	stream     streamcapture.StreamProvider
	device     streamcapture.Device
	server     *display.Server
	sinkStats  map[string]*display.SinkStats
	mqttClient mqtt.Client
	control    *control.MQTTHandler

	mu        sync.RWMutex
	wg        sync.WaitGroup
	started   time.Time
	isRunning bool
}

// New creates the service from a validated configuration.
func New(cfg *config.Config, opts Options) (*FilterCam, error) {
	initial, err := filter.ParseKind(cfg.Filter.Default)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	selector := filter.NewSelector(initial)
	fc := &FilterCam{
		cfg:       cfg,
		opts:      opts,
		selector:  selector,
		pipeline:  framepipeline.New(selector, filter.NewRegistry()),
		supplier:  framesupplier.New(),
		sinkStats: make(map[string]*display.SinkStats),
	}

	slog.Info("core: service configured",
		"instance_id", cfg.InstanceID,
		"source", cfg.Camera.Source,
		"filter", initial.String(),
	)
	return fc, nil
}

// Selector returns the active filter cell.
func (fc *FilterCam) Selector() *filter.Selector {
	return fc.selector
}

// Run starts every component and blocks until ctx is done or capture ends.
//
// Startup errors are returned as is so callers can match
// streamcapture.ErrDeviceUnavailable, ErrPermissionDenied and ErrSessionSetup.
// A capture source that fails at runtime ends Run with its error.
func (fc *FilterCam) Run(ctx context.Context) error {
	fc.mu.Lock()
	if fc.isRunning {
		fc.mu.Unlock()
		return fmt.Errorf("core: service is already running")
	}
	fc.isRunning = true
	fc.started = time.Now()
	fc.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := fc.openStream(ctx)
	if err != nil {
		return err
	}
	fc.mu.Lock()
	fc.stream = stream
	fc.mu.Unlock()

	if err := fc.supplier.Start(ctx); err != nil {
		return fmt.Errorf("core: start frame supplier: %w", err)
	}

	if err := fc.startDisplay(ctx); err != nil {
		return err
	}
	fc.startControl(ctx)

	frames, err := stream.Start(ctx)
	if err != nil {
		return fmt.Errorf("core: start capture: %w", err)
	}

	slog.Info("core: filtercam running",
		"instance_id", fc.cfg.InstanceID,
		"source", fc.cfg.Camera.Source,
		"device", fc.device.Path,
		"filter", fc.selector.Get().String(),
	)

	runErr := fc.pipeline.Run(ctx, frames, fc.supplier)
	if runErr != nil && errors.Is(runErr, ctx.Err()) {
		runErr = nil
	}
	if runErr == nil {
		// Frames closed before ctx: the source gave up.
		if err := stream.Err(); err != nil {
			return fmt.Errorf("core: capture stopped: %w", err)
		}
	}

	slog.Info("core: run loop exiting")
	return runErr
}

func (fc *FilterCam) startDisplay(ctx context.Context) error {
	d := fc.cfg.Display

	if d.Listen != "" {
		fc.server = display.NewServer(display.ServerConfig{
			Listen:      d.Listen,
			JPEGQuality: d.JPEGQuality,
			MaxWidth:    d.MaxWidth,
		}, fc.selector, fc.supplier, fc.statusMap)

		fc.wg.Add(1)
		go func() {
			defer fc.wg.Done()
			if err := fc.server.Run(ctx); err != nil {
				slog.Error("core: web viewer failed", "addr", d.Listen, "error", err)
			}
		}()
	}

	if d.OutputDir != "" {
		dir, err := display.NewDirSink(d.OutputDir, d.OutputFormat, d.JPEGQuality)
		if err != nil {
			return fmt.Errorf("core: %w", err)
		}
		fc.wg.Add(1)
		go func() {
			defer fc.wg.Done()
			fc.runSink(ctx, dir)
		}()
	}

	// A FIFO blocks open until the viewer attaches, so the pipe opens in its
	// own goroutine and gives up with ctx.
	if d.Pipe != "" {
		fc.wg.Add(1)
		go func() {
			defer fc.wg.Done()
			pipe, err := display.OpenPipeContext(ctx, d.Pipe, d.JPEGQuality, d.MaxWidth)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("core: pipe sink unavailable", "path", d.Pipe, "error", err)
				}
				return
			}
			slog.Info("core: pipe viewer attached", "path", d.Pipe)
			fc.runSink(ctx, pipe)
		}()
	}

	if d.Listen == "" && d.OutputDir == "" && d.Pipe == "" {
		slog.Warn("core: no display configured, frames are filtered but not shown")
	}
	return nil
}

// runSink drains the display mailbox into sink until ctx is done.
func (fc *FilterCam) runSink(ctx context.Context, sink display.Sink) {
	stats := &display.SinkStats{}
	fc.mu.Lock()
	fc.sinkStats[sink.Name()] = stats
	fc.mu.Unlock()
	display.RunSink(ctx, fc.supplier, sink, stats)
}

// startControl connects the MQTT control plane and the config watcher.
// Both are optional: failures are logged and the service keeps running.
func (fc *FilterCam) startControl(ctx context.Context) {
	if fc.opts.ConfigPath != "" {
		fc.wg.Add(1)
		go func() {
			defer fc.wg.Done()
			err := control.WatchConfig(ctx, control.WatchOptions{
				Path:  fc.opts.ConfigPath,
				Load:  config.LoadFilter,
				Apply: func(kind filter.Kind) { fc.setFilter(kind, "config") },
			}, fc.selector)
			if err != nil {
				slog.Warn("core: config watch disabled", "path", fc.opts.ConfigPath, "error", err)
			}
		}()
	}

	m := fc.cfg.MQTT
	if m.Broker == "" {
		slog.Debug("core: mqtt control disabled (no broker configured)")
		return
	}

	mcfg := control.MQTTConfig{
		Broker:         m.Broker,
		ClientID:       fc.cfg.InstanceID,
		ControlTopic:   m.Topics.Control,
		ResponseTopic:  m.Topics.Responses,
		StatusTopic:    m.Topics.Status,
		StatusInterval: time.Duration(m.StatusIntervalS) * time.Second,
		QoS:            m.QoS,
	}
	client, err := control.Connect(mcfg)
	if err != nil {
		slog.Warn("core: mqtt control unavailable", "broker", m.Broker, "error", err)
		return
	}

	handler := control.NewMQTTHandler(mcfg, client, fc.selector, control.Callbacks{
		OnSetFilter: func(kind filter.Kind) filter.Kind { return fc.setFilter(kind, "mqtt") },
		OnGetStatus: fc.statusMap,
		OnSetFPS:    fc.setFPS,
	})
	if err := handler.Start(ctx); err != nil {
		slog.Warn("core: mqtt control unavailable", "broker", m.Broker, "error", err)
		client.Disconnect(250)
		return
	}

	fc.mu.Lock()
	fc.mqttClient = client
	fc.control = handler
	fc.mu.Unlock()
}

// setFilter routes a filter change through the web viewer when it runs, so
// viewers see the new selection immediately.
func (fc *FilterCam) setFilter(kind filter.Kind, via string) filter.Kind {
	if fc.server != nil {
		return fc.server.SetFilter(kind, via)
	}
	prev := fc.selector.Swap(kind)
	if prev != kind {
		slog.Info("core: filter changed", "from", prev.String(), "to", kind.String(), "via", via)
	}
	return prev
}

// setFPS changes the capture frame rate of a running source.
func (fc *FilterCam) setFPS(fps float64) error {
	fc.mu.RLock()
	stream := fc.stream
	fc.mu.RUnlock()

	if stream == nil {
		return fmt.Errorf("core: capture not running")
	}
	ctl, ok := stream.(streamcapture.FPSController)
	if !ok {
		return fmt.Errorf("core: source %s cannot change frame rate", fc.cfg.Camera.Source)
	}
	if err := ctl.SetTargetFPS(fps); err != nil {
		return fmt.Errorf("core: %w", err)
	}
	return nil
}

// Shutdown stops every component. Safe to call after Run returns.
func (fc *FilterCam) Shutdown(ctx context.Context) error {
	fc.mu.Lock()
	if !fc.isRunning {
		fc.mu.Unlock()
		return nil
	}
	stream := fc.stream
	handler := fc.control
	fc.mu.Unlock()

	slog.Info("core: shutting down")

	// 1. Stop capture so no new frames enter the pipeline
	if stream != nil {
		if err := stream.Stop(); err != nil {
			slog.Error("core: failed to stop capture", "error", err)
		}
	}

	// 2. Control plane
	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("core: failed to stop mqtt control", "error", err)
		}
	}

	// 3. Wake every display subscriber
	if err := fc.supplier.Stop(); err != nil {
		slog.Error("core: failed to stop frame supplier", "error", err)
	}

	done := make(chan struct{})
	go func() {
		fc.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("core: shutdown: %w", ctx.Err())
	}

	fc.mu.Lock()
	uptime := time.Since(fc.started)
	fc.isRunning = false
	fc.mu.Unlock()

	slog.Info("core: shutdown complete", "uptime", uptime.Round(time.Millisecond))
	return err
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (fc *FilterCam) ShutdownTimeout() time.Duration {
	return time.Duration(fc.cfg.ShutdownTimeoutS) * time.Second
}
