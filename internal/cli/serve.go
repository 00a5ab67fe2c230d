package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e7canasta/filtercam/internal/config"
	"github.com/e7canasta/filtercam/internal/core"
)

type serveOptions struct {
	source      string
	device      string
	position    string
	rtspURL     string
	resolution  string
	fps         float64
	orientation string
	filter      string
	listen      string
	pipe        string
	output      string
	format      string
	mqttBroker  string
	noWatch     bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live filter service",
		Long: `Capture frames, apply the active filter and deliver them to the
configured displays until interrupted.

Exit codes: 0 ok, 1 runtime error, 2 usage or config error,
3 camera unavailable, 4 camera access denied.`,
		Example: `  filtercam serve --source synthetic --listen :8080
  filtercam serve --config filtercam.yaml --filter noir
  filtercam serve --source rtsp --rtsp-url rtsp://10.0.0.5/stream --pipe /tmp/filtercam.fifo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.apply(cmd, root.cfg); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			return runServe(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.source, "source", "", "capture source: v4l2, rtsp, test, synthetic")
	f.StringVar(&opts.device, "device", "", "camera device node (v4l2), overrides --position")
	f.StringVar(&opts.position, "position", "", "camera position: back, front, external")
	f.StringVar(&opts.rtspURL, "rtsp-url", "", "RTSP stream URL")
	f.StringVar(&opts.resolution, "resolution", "", "capture resolution: 480p, 512p, 720p, 1080p")
	f.Float64Var(&opts.fps, "fps", 0, "target frames per second (0.1-60)")
	f.StringVar(&opts.orientation, "orientation", "", "sensor orientation: portrait, portrait-upside-down, landscape-right, landscape-left")
	f.StringVar(&opts.filter, "filter", "", "initial filter: sepia, comic, noir")
	f.StringVar(&opts.listen, "listen", "", "web viewer address (e.g. :8080)")
	f.StringVar(&opts.pipe, "pipe", "", "write msgpack frame records to this file or FIFO (- for stdout)")
	f.StringVar(&opts.output, "output", "", "save every frame to this directory")
	f.StringVar(&opts.format, "format", "", "image format for --output: png, jpeg")
	f.StringVar(&opts.mqttBroker, "mqtt-broker", "", "MQTT broker for remote control (host:port)")
	f.BoolVar(&opts.noWatch, "no-watch", false, "do not follow config file changes")

	return cmd
}

// apply overrides cfg with the flags the user set and re-validates.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("source") {
		cfg.Camera.Source = o.source
	}
	if changed("device") {
		cfg.Camera.Device = o.device
	}
	if changed("position") {
		cfg.Camera.Position = o.position
	}
	if changed("rtsp-url") {
		cfg.Camera.RTSPURL = o.rtspURL
	}
	if changed("resolution") {
		cfg.Camera.Resolution = o.resolution
	}
	if changed("fps") {
		cfg.Camera.FPS = o.fps
	}
	if changed("orientation") {
		cfg.Camera.Orientation = o.orientation
	}
	if changed("filter") {
		cfg.Filter.Default = o.filter
	}
	if changed("listen") {
		cfg.Display.Listen = o.listen
	}
	if changed("pipe") {
		cfg.Display.Pipe = o.pipe
	}
	if changed("output") {
		cfg.Display.OutputDir = o.output
	}
	if changed("format") {
		cfg.Display.OutputFormat = o.format
	}
	if changed("mqtt-broker") {
		cfg.MQTT.Broker = o.mqttBroker
	}

	return config.Validate(cfg)
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	coreOpts := core.Options{}
	if root.cfgFile != "" && !opts.noWatch {
		coreOpts.ConfigPath = root.cfgFile
	}

	fc, err := core.New(root.cfg, coreOpts)
	if err != nil {
		return exitErrorFor(err, cmd.ErrOrStderr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := fc.Run(ctx)
	if runErr == nil && ctx.Err() != nil {
		slog.Info("cli: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), fc.ShutdownTimeout())
	defer cancel()
	if err := fc.Shutdown(shutdownCtx); err != nil {
		slog.Error("cli: shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return exitErrorFor(runErr, cmd.ErrOrStderr())
	}
	return nil
}
