package display

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/e7canasta/filtercam/modules/framesupplier"
)

// DirSink saves every frame it receives as an image file.
//
// Filename format: frame_{seq:06d}_{timestamp}.{ext}
// Example: frame_000042_20251105_234517.123.png
type DirSink struct {
	dir     string
	format  string
	quality int
}

// NewDirSink creates the output directory if needed.
func NewDirSink(dir, format string, quality int) (*DirSink, error) {
	if format == "jpg" {
		format = FormatJPEG
	}
	if format != FormatPNG && format != FormatJPEG {
		return nil, fmt.Errorf("display: unsupported format %q (must be png or jpeg)", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("display: failed to create output directory: %w", err)
	}
	return &DirSink{dir: dir, format: format, quality: quality}, nil
}

func (d *DirSink) Name() string { return "dir" }

// Path returns the file a frame is saved to.
func (d *DirSink) Path(frame *framesupplier.Frame) string {
	name := fmt.Sprintf("frame_%06d_%s.%s",
		frame.Seq,
		frame.Timestamp.Format("20060102_150405.000"),
		d.format)
	return filepath.Join(d.dir, name)
}

func (d *DirSink) Write(frame *framesupplier.Frame) error {
	data, err := Encode(frame.Image, d.format, d.quality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.Path(frame), data, 0o644); err != nil {
		return fmt.Errorf("display: failed to save frame: %w", err)
	}
	return nil
}

func (d *DirSink) Close() error { return nil }
