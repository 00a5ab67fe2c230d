package display

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// Image formats understood by the sinks.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Scale returns img downscaled to maxWidth, keeping the aspect ratio.
// Images already within maxWidth, or a maxWidth <= 0, are returned as is.
func Scale(img *image.RGBA, maxWidth int) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img
	}

	nh := h * maxWidth / w
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, nh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, img, img.Rect, xdraw.Src, nil)
	return dst
}

// Encode renders img as JPEG (with quality) or PNG.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG, "jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("display: JPEG encode failed: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("display: PNG encode failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("display: unsupported format %q (must be png or jpeg)", format)
	}
	return buf.Bytes(), nil
}
