// Package cli implements the cobra command tree for filtercam.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/e7canasta/filtercam/internal/config"
	"github.com/e7canasta/filtercam/internal/logging"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

// Exit codes.
const (
	ExitOK                = 0
	ExitRuntime           = 1
	ExitUsage             = 2
	ExitDeviceUnavailable = 3
	ExitPermissionDenied  = 4
)

const permissionGuidance = `Need Camera Access
Camera access is required to make full use of filtercam.
Open your system settings and grant this user access to the camera
(for example: sudo usermod -aG video $USER, then log in again).`

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return ExitRuntime
	}
	return ExitOK
}

// rootOptions carries global flags and the loaded configuration to
// subcommands.
type rootOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
}

// NewRootCommand constructs the top-level command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "filtercam",
		Short: "Live camera preview with sepia, comic and noir filters",
		Long: `filtercam captures frames from a camera, applies the selected photo
filter (sepia, comic or noir) to every frame and shows the result in a
web viewer, an external viewer pipe or a directory of images.

The filter can be switched at any time from the web page, the HTTP API,
MQTT or the config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text, json")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})

	cmd.AddCommand(
		newServeCommand(opts),
		newApplyCommand(opts),
		newFiltersCommand(),
		newVersionCommand(),
	)
	return cmd
}

// load reads the config file (or defaults), applies the logging flags and
// installs the logger.
func (o *rootOptions) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if o.cfgFile != "" {
		cfg, err = config.Load(o.cfgFile)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	logging.SetupWithWriter(cfg.Log, cmd.ErrOrStderr())
	slog.Debug("cli: configuration loaded",
		"config", o.cfgFile,
		"log_level", cfg.Log.Level,
		"log_format", cfg.Log.Format,
	)

	o.cfg = cfg
	return nil
}

// exitErrorFor maps service errors to exit codes and prints user guidance
// for the camera errors.
func exitErrorFor(err error, stderr io.Writer) *ExitError {
	switch {
	case errors.Is(err, streamcapture.ErrPermissionDenied):
		fmt.Fprintln(stderr, permissionGuidance)
		return &ExitError{Code: ExitPermissionDenied, Err: err}
	case errors.Is(err, streamcapture.ErrDeviceUnavailable):
		fmt.Fprintln(stderr, "No camera is available. Check that the camera is connected and camera.position or --device names it.")
		return &ExitError{Code: ExitDeviceUnavailable, Err: err}
	case errors.Is(err, config.ErrInvalid):
		return &ExitError{Code: ExitUsage, Err: err}
	default:
		return &ExitError{Code: ExitRuntime, Err: err}
	}
}
