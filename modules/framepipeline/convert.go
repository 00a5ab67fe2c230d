package framepipeline

import (
	"fmt"
	"image"

	"github.com/e7canasta/filtercam/modules/filter"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
	"golang.org/x/image/draw"
)

// toRGBA validates the raw buffer and converts it to an RGBA image.
//
// RGBA32 buffers are wrapped without copying; RGB24 buffers are expanded
// with opaque alpha.
func toRGBA(frame streamcapture.Frame) (*image.RGBA, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("framepipeline: zero-area frame %dx%d: %w", frame.Width, frame.Height, filter.ErrFilterUnavailable)
	}
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("framepipeline: empty pixel buffer: %w", filter.ErrFilterUnavailable)
	}

	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("framepipeline: unsupported pixel format %v: %w", frame.Format, filter.ErrFilterUnavailable)
	}
	if want := frame.Width * frame.Height * bpp; len(frame.Data) != want {
		return nil, fmt.Errorf("framepipeline: buffer is %d bytes, want %d for %dx%d %v: %w",
			len(frame.Data), want, frame.Width, frame.Height, frame.Format, filter.ErrFilterUnavailable)
	}

	rect := image.Rect(0, 0, frame.Width, frame.Height)
	if frame.Format == streamcapture.FormatRGBA32 {
		return &image.RGBA{Pix: frame.Data, Stride: frame.Width * 4, Rect: rect}, nil
	}

	rgba := image.NewRGBA(rect)
	for i, j := 0, 0; i < len(frame.Data); i, j = i+3, j+4 {
		rgba.Pix[j] = frame.Data[i]
		rgba.Pix[j+1] = frame.Data[i+1]
		rgba.Pix[j+2] = frame.Data[i+2]
		rgba.Pix[j+3] = 255
	}
	return rgba, nil
}

// FrameFromImage wraps a decoded still image as an upright RGBA32 frame, so
// stills go through the same Process path as camera frames.
func FrameFromImage(img image.Image, source string) streamcapture.Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)

	return streamcapture.Frame{
		Seq:          1,
		Width:        b.Dx(),
		Height:       b.Dy(),
		Format:       streamcapture.FormatRGBA32,
		Orientation:  streamcapture.OrientationPortrait,
		Data:         rgba.Pix,
		SourceStream: source,
	}
}
