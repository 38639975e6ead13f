// Package imaging provides the shared image operations used across the
// pipeline: decoding, color conversion, resizing and PNG output.
package imaging

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	// Register the decoders used by the dataset and style libraries
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// IsSupportedImage reports whether the path has a decodable image extension
func IsSupportedImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff":
		return true
	}
	return false
}

// Load decodes an image file and returns it with the detected format name
func Load(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image %s: %v", path, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image %s: %v", path, err)
	}
	return img, format, nil
}

// ToRGBA converts any image to RGBA, reusing the input when possible
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Gray8 converts any image to 8-bit grayscale
func Gray8(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// ResizeSquare stretches the image to size x size with Lanczos resampling
func ResizeSquare(img image.Image, size int) *image.RGBA {
	scaled := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	return ToRGBA(scaled)
}

// ResizeTo resizes the image to the given dimensions with Lanczos resampling
func ResizeTo(img image.Image, width, height int) *image.RGBA {
	scaled := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	return ToRGBA(scaled)
}

// Thumbnail shrinks the image so its longest side is at most maxSide,
// preserving the aspect ratio. Images already small enough pass through.
func Thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	if b.Dx() >= b.Dy() {
		return resize.Resize(uint(maxSide), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(maxSide), img, resize.Lanczos3)
}

// ScaleNearestGray rescales to the given size with nearest-neighbor sampling.
// Label images must go through this path so class values are never blended.
func ScaleNearestGray(src image.Image, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// SavePNG writes the image as a PNG file
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", path, err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %v", path, err)
	}
	return f.Close()
}
