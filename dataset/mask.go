package dataset

import (
	"fmt"
	"image"

	"stylesweep/imaging"
)

// Mask holds per-pixel foreground weights in [0, 1]. Weights start binary
// and stay binary until Feather is applied.
type Mask struct {
	Width  int
	Height int

	weights []float32
}

// NewMask returns an all-background mask of the given size
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:   width,
		Height:  height,
		weights: make([]float32, width*height),
	}
}

// FromImage binarizes a label image: any nonzero pixel is foreground
func FromImage(img image.Image) *Mask {
	gray := imaging.Gray8(img)
	b := gray.Bounds()

	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y > 0 {
				m.weights[y*m.Width+x] = 1
			}
		}
	}
	return m
}

// FromImageScaled rescales a label image with nearest-neighbor sampling and
// binarizes it. Nearest-neighbor keeps label values intact, so no pixel ends
// up half foreground from interpolation.
func FromImageScaled(img image.Image, width, height int) *Mask {
	scaled := imaging.ScaleNearestGray(img, width, height)
	return FromImage(scaled)
}

// At returns the foreground weight at (x, y)
func (m *Mask) At(x, y int) float32 {
	return m.weights[y*m.Width+x]
}

// Set assigns the foreground weight at (x, y)
func (m *Mask) Set(x, y int, w float32) {
	m.weights[y*m.Width+x] = w
}

// Coverage returns the fraction of pixels that are at least half foreground
func (m *Mask) Coverage() float64 {
	if len(m.weights) == 0 {
		return 0
	}
	count := 0
	for _, w := range m.weights {
		if w >= 0.5 {
			count++
		}
	}
	return float64(count) / float64(len(m.weights))
}

// Clone returns a copy sharing no storage with the original
func (m *Mask) Clone() *Mask {
	c := NewMask(m.Width, m.Height)
	copy(c.weights, m.weights)
	return c
}

// Feather softens the mask boundary with a separable box blur of the given
// radius. Weights remain in [0, 1]. A radius below 1 returns a plain copy.
func (m *Mask) Feather(radius int) *Mask {
	if radius < 1 {
		return m.Clone()
	}

	window := float32(2*radius + 1)

	// Horizontal pass
	horiz := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			var sum float32
			for dx := -radius; dx <= radius; dx++ {
				sum += m.weights[y*m.Width+clamp(x+dx, m.Width)]
			}
			horiz.weights[y*m.Width+x] = sum / window
		}
	}

	// Vertical pass
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			var sum float32
			for dy := -radius; dy <= radius; dy++ {
				sum += horiz.weights[clamp(y+dy, m.Height)*m.Width+x]
			}
			out.weights[y*m.Width+x] = sum / window
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Validate checks the mask matches the given image size
func (m *Mask) Validate(width, height int) error {
	if m.Width != width || m.Height != height {
		return fmt.Errorf("mask size %dx%d does not match image size %dx%d",
			m.Width, m.Height, width, height)
	}
	return nil
}
