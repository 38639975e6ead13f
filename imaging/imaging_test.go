package imaging

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestIsSupportedImage(t *testing.T) {
	require.True(t, IsSupportedImage("a/b/photo.JPG"))
	require.True(t, IsSupportedImage("mask.png"))
	require.True(t, IsSupportedImage("scan.tiff"))
	require.False(t, IsSupportedImage("notes.txt"))
	require.False(t, IsSupportedImage("archive.zip"))
}

func TestSavePNGAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")

	src := solidImage(20, 10, color.RGBA{R: 200, G: 30, B: 90, A: 255})
	require.NoError(t, SavePNG(path, src))

	img, format, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 20, img.Bounds().Dx())
	require.Equal(t, 10, img.Bounds().Dy())

	got := ToRGBA(img)
	require.Equal(t, src.RGBAAt(5, 5), got.RGBAAt(5, 5))
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
}

func TestResizeSquare(t *testing.T) {
	src := solidImage(33, 71, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	out := ResizeSquare(src, 224)
	require.Equal(t, 224, out.Bounds().Dx())
	require.Equal(t, 224, out.Bounds().Dy())
}

func TestThumbnailPreservesAspect(t *testing.T) {
	src := solidImage(400, 200, color.RGBA{A: 255})
	out := Thumbnail(src, 100)
	require.Equal(t, 100, out.Bounds().Dx())
	require.Equal(t, 50, out.Bounds().Dy())

	small := solidImage(40, 20, color.RGBA{A: 255})
	require.Equal(t, small.Bounds(), Thumbnail(small, 100).Bounds())
}

func TestScaleNearestGrayKeepsLabels(t *testing.T) {
	// Two-class label image: left half 0, right half 255
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 5; x < 10; x++ {
			src.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	out := ScaleNearestGray(src, 7, 7)
	for y := 0; y < 7; y++ {
		for x := 0; x < 7; x++ {
			v := out.GrayAt(x, y).Y
			require.True(t, v == 0 || v == 255, "blended label %d at (%d,%d)", v, x, y)
		}
	}
}
