package cli

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/e7canasta/filtercam/modules/display"
	"github.com/e7canasta/filtercam/modules/filter"
	"github.com/e7canasta/filtercam/modules/framepipeline"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

type applyOptions struct {
	filter      string
	orientation string
	quality     int
}

func newApplyCommand(root *rootOptions) *cobra.Command {
	opts := &applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <input> <output>",
		Short: "Filter a single image",
		Long: `Run one still image through the frame pipeline and write the result.
The output format follows the output file extension (.png, .jpg, .jpeg).`,
		Example: `  filtercam apply --filter noir photo.jpg photo-noir.png`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, root, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.filter, "filter", "", "filter to apply: sepia, comic, noir (default: filter.default)")
	f.StringVar(&opts.orientation, "orientation", "portrait", "orientation of the input image")
	f.IntVar(&opts.quality, "quality", 0, "JPEG quality (default: display.jpeg_quality)")

	return cmd
}

func runApply(cmd *cobra.Command, root *rootOptions, opts *applyOptions, in, out string) error {
	name := root.cfg.Filter.Default
	if opts.filter != "" {
		name = opts.filter
	}
	kind, err := filter.ParseKind(name)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	orientation, err := streamcapture.ParseOrientation(opts.orientation)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	format, err := formatForPath(out)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	quality := root.cfg.Display.JPEGQuality
	if opts.quality > 0 {
		quality = opts.quality
	}

	src, err := decodeImage(in)
	if err != nil {
		return &ExitError{Code: ExitRuntime, Err: err}
	}

	frame := framepipeline.FrameFromImage(src, filepath.Base(in))
	frame.Orientation = orientation

	output, err := framepipeline.New(filter.NewSelector(kind), nil).Process(frame)
	if err != nil {
		return &ExitError{Code: ExitRuntime, Err: err}
	}

	data, err := display.Encode(output.Image, format, quality)
	if err != nil {
		return &ExitError{Code: ExitRuntime, Err: err}
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return &ExitError{Code: ExitRuntime, Err: fmt.Errorf("writing %s: %w", out, err)}
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s, %dx%d)\n",
		in, out, kind.TransformName(), output.Width, output.Height)
	return err
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

func formatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return display.FormatPNG, nil
	case ".jpg", ".jpeg":
		return display.FormatJPEG, nil
	default:
		return "", fmt.Errorf("unsupported output extension %q (use .png, .jpg or .jpeg)", filepath.Ext(path))
	}
}
