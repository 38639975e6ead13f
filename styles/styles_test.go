package styles

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"stylesweep/imaging"

	"github.com/stretchr/testify/require"
)

func paintStyle(t *testing.T, dir, name string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	require.NoError(t, imaging.SavePNG(filepath.Join(dir, name), img))
}

func testLibrary(t *testing.T) (*Library, string, string) {
	t.Helper()
	stylesDir := t.TempDir()
	modelsDir := t.TempDir()

	paintStyle(t, stylesDir, "wave.png", color.RGBA{B: 200, A: 255})
	paintStyle(t, stylesDir, "starry_night.png", color.RGBA{R: 40, G: 40, B: 120, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(stylesDir, "notes.txt"), []byte("not a style"), 0644))

	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "wave.onnx"), []byte("model"), 0644))

	lib, err := OpenLibrary(stylesDir, modelsDir)
	require.NoError(t, err)
	return lib, stylesDir, modelsDir
}

func TestOpenLibraryDiscoversStyles(t *testing.T) {
	lib, _, modelsDir := testLibrary(t)

	require.Equal(t, []string{"starry_night", "wave"}, lib.Names())

	wave, err := lib.Get("wave")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(modelsDir, "wave.onnx"), wave.ModelPath)

	starry, err := lib.Get("starry_night")
	require.NoError(t, err)
	require.Empty(t, starry.ModelPath)
}

func TestGetUnknownStyle(t *testing.T) {
	lib, _, _ := testLibrary(t)
	_, err := lib.Get("mona_lisa")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mona_lisa")
}

func TestOpenLibraryEmptyFolder(t *testing.T) {
	_, err := OpenLibrary(t.TempDir(), "")
	require.Error(t, err)
}

func TestOpenLibraryMissingFolder(t *testing.T) {
	_, err := OpenLibrary(filepath.Join(t.TempDir(), "nope"), "")
	require.Error(t, err)
}

func TestLoadImageAtWorkingSize(t *testing.T) {
	lib, _, _ := testLibrary(t)

	img, err := lib.LoadImage("wave", 24)
	require.NoError(t, err)
	require.Equal(t, 24, img.Bounds().Dx())
	require.Equal(t, 24, img.Bounds().Dy())
}

func TestFindDuplicates(t *testing.T) {
	stylesDir := t.TempDir()
	paintStyle(t, stylesDir, "wave.png", color.RGBA{B: 200, A: 255})
	paintStyle(t, stylesDir, "wave_copy.png", color.RGBA{B: 200, A: 255})

	gradient := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			gradient.SetRGBA(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), A: 255})
		}
	}
	require.NoError(t, imaging.SavePNG(filepath.Join(stylesDir, "gradient.png"), gradient))

	lib, err := OpenLibrary(stylesDir, "")
	require.NoError(t, err)

	pairs, err := lib.FindDuplicates(0)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "wave", pairs[0].A)
	require.Equal(t, "wave_copy", pairs[0].B)
	require.Equal(t, 0, pairs[0].Distance)
}

func TestAnnotateFromMetadataToleratesMissingExiftool(t *testing.T) {
	lib, _, _ := testLibrary(t)

	// Must not panic or error regardless of exiftool availability
	lib.AnnotateFromMetadata()

	_, err := lib.Get("wave")
	require.NoError(t, err)
}
