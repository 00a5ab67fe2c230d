package framepipeline

import (
	"image"

	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

// orient rotates src upright by an exact quarter or half turn.
// Portrait frames are returned as is, so their extent is preserved.
func orient(src *image.RGBA, o streamcapture.Orientation) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()

	var dst *image.RGBA
	var place func(x, y int) (int, int)

	switch o {
	case streamcapture.OrientationLandscapeRight:
		// clockwise: left column becomes the top row
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		place = func(x, y int) (int, int) { return h - 1 - y, x }
	case streamcapture.OrientationLandscapeLeft:
		// counter-clockwise: right column becomes the top row
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		place = func(x, y int) (int, int) { return y, w - 1 - x }
	case streamcapture.OrientationPortraitUpsideDown:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		place = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	default:
		return src
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := src.PixOffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)
			dx, dy := place(x, y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}
