package engine

import (
	"fmt"
	"image"
	"image/color"

	"stylesweep/dataset"
)

// Composite blends fg over bg using the mask's foreground weights. Both
// images and the mask must share the same dimensions. Each channel is a
// convex combination, so the output stays within the input range.
func Composite(bg, fg *image.RGBA, mask *dataset.Mask) (*image.RGBA, error) {
	width := bg.Bounds().Dx()
	height := bg.Bounds().Dy()

	if fg.Bounds().Dx() != width || fg.Bounds().Dy() != height {
		return nil, fmt.Errorf("composite size mismatch: bg %dx%d, fg %dx%d",
			width, height, fg.Bounds().Dx(), fg.Bounds().Dy())
	}
	if err := mask.Validate(width, height); err != nil {
		return nil, err
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			w := mask.At(x, y)
			b := bg.RGBAAt(x, y)
			f := fg.RGBAAt(x, y)

			out.SetRGBA(x, y, color.RGBA{
				R: blend(b.R, f.R, w),
				G: blend(b.G, f.G, w),
				B: blend(b.B, f.B, w),
				A: 255,
			})
		}
	}
	return out, nil
}

func blend(bg, fg uint8, w float32) uint8 {
	v := float32(fg)*w + float32(bg)*(1-w)
	return uint8(v + 0.5)
}

// PreserveColor keeps the content image's colors in the stylized result by
// taking luminance from the stylized image and chrominance from the content
func PreserveColor(content, stylized *image.RGBA) *image.RGBA {
	width := stylized.Bounds().Dx()
	height := stylized.Bounds().Dy()

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			s := stylized.RGBAAt(x, y)
			c := content.RGBAAt(x, y)

			luma, _, _ := color.RGBToYCbCr(s.R, s.G, s.B)
			_, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			r, g, b := color.YCbCrToRGB(luma, cb, cr)

			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out
}
