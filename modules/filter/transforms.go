package filter

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
)

const (
	// noirContrast is the contrast boost applied after desaturation.
	noirContrast = 0.35

	// comicLevels is the number of tones kept per channel.
	comicLevels = 4

	// comicEdgeLevel is the Sobel magnitude above which a pixel is inked.
	comicEdgeLevel = 96
)

var comicInk = color.RGBA{R: 12, G: 12, B: 16, A: 255}

// Transform maps an image to a new image of the same extent. A transform
// must not modify src.
type Transform func(src image.Image) *image.RGBA

func sepia(src image.Image) *image.RGBA {
	return effect.Sepia(src)
}

func noir(src image.Image) *image.RGBA {
	return adjust.Contrast(effect.Grayscale(src), noirContrast)
}

// comic posterises the colours and inks the strong edges on top.
func comic(src image.Image) *image.RGBA {
	out := adjust.Apply(src, posterize)
	edges := segment.Threshold(effect.Sobel(src), comicEdgeLevel)

	ob := out.Bounds()
	eb := edges.Bounds()
	for y := 0; y < ob.Dy() && y < eb.Dy(); y++ {
		for x := 0; x < ob.Dx() && x < eb.Dx(); x++ {
			if edges.GrayAt(eb.Min.X+x, eb.Min.Y+y).Y > 0 {
				out.SetRGBA(ob.Min.X+x, ob.Min.Y+y, comicInk)
			}
		}
	}
	return out
}

func posterize(c color.RGBA) color.RGBA {
	return color.RGBA{
		R: quantize(c.R),
		G: quantize(c.G),
		B: quantize(c.B),
		A: c.A,
	}
}

func quantize(v uint8) uint8 {
	step := 255 / (comicLevels - 1)
	level := (int(v) + step/2) / step
	return uint8(level * step)
}
