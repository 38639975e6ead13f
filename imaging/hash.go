package imaging

import (
	"image"
	"strings"

	"github.com/nfnt/resize"
)

const hashSize = 8

// AverageHash computes an 8x8 average hash. Each bit records whether the
// pixel is at least as bright as the mean, encoded as a 64-char "01" string.
func AverageHash(img image.Image) string {
	small := Gray8(resize.Resize(hashSize, hashSize, img, resize.Bilinear))

	var sum int
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			sum += int(small.GrayAt(x, y).Y)
		}
	}
	mean := uint8(sum / (hashSize * hashSize))

	var sb strings.Builder
	sb.Grow(hashSize * hashSize)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			if small.GrayAt(x, y).Y >= mean {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// DiffHash computes a 9x8 horizontal gradient hash. Each bit records whether
// brightness increases from one pixel to the next.
func DiffHash(img image.Image) string {
	small := Gray8(resize.Resize(hashSize+1, hashSize, img, resize.Bilinear))

	var sb strings.Builder
	sb.Grow(hashSize * hashSize)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			if small.GrayAt(x, y).Y < small.GrayAt(x+1, y).Y {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// HammingDistance counts differing positions between two hash strings.
// Hashes of different lengths are treated as maximally distant.
func HammingDistance(a, b string) int {
	if len(a) != len(b) {
		return len(a) + len(b)
	}
	dist := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			dist++
		}
	}
	return dist
}
