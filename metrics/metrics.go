// Package metrics evaluates stylization outputs: Gram-based style distance,
// feature-space content distance, total variation and a structure score.
// These are measurements over finished images; nothing here optimizes.
package metrics

import (
	"fmt"
	"image"
	"math"
	"runtime"

	"stylesweep/extractor"
	"stylesweep/imaging"
	"stylesweep/params"
	"stylesweep/utils"
)

// Gram computes the channel correlation matrix of a feature map, flattened
// row-major to Channels x Channels and normalized by the feature volume.
func Gram(f extractor.FeatureMap) ([]float64, error) {
	plane := f.Height * f.Width
	if f.Channels*plane != len(f.Data) {
		return nil, fmt.Errorf("feature map %s: %d channels x %d pixels does not match %d values",
			f.Layer, f.Channels, plane, len(f.Data))
	}

	c := f.Channels
	norm := float64(c * plane)
	gram := make([]float64, c*c)

	utils.Parallel(0, c, runtime.NumCPU(), func(i int) {
		rowI := f.Data[i*plane : (i+1)*plane]
		for j := i; j < c; j++ {
			rowJ := f.Data[j*plane : (j+1)*plane]

			var dot float64
			for k := range rowI {
				dot += float64(rowI[k]) * float64(rowJ[k])
			}

			v := dot / norm
			gram[i*c+j] = v
			gram[j*c+i] = v
		}
	})

	return gram, nil
}

// StyleLoss sums the weighted squared Gram distances over the chosen
// layers. It returns the total and the per-layer weighted terms.
func StyleLoss(out, style []extractor.FeatureMap, layers []int, weights []float64) (float64, []float64, error) {
	if len(layers) != len(weights) {
		return 0, nil, fmt.Errorf("got %d layers but %d weights", len(layers), len(weights))
	}

	perLayer := make([]float64, len(layers))
	total := 0.0

	for k, layer := range layers {
		if layer < 0 || layer >= len(out) || layer >= len(style) {
			return 0, nil, fmt.Errorf("style layer %d out of range (network has %d layers)", layer, len(out))
		}

		gramOut, err := Gram(out[layer])
		if err != nil {
			return 0, nil, err
		}
		gramStyle, err := Gram(style[layer])
		if err != nil {
			return 0, nil, err
		}
		if len(gramOut) != len(gramStyle) {
			return 0, nil, fmt.Errorf("layer %d: gram sizes differ (%d vs %d)", layer, len(gramOut), len(gramStyle))
		}

		var sum float64
		for i := range gramOut {
			d := gramOut[i] - gramStyle[i]
			sum += d * d
		}

		perLayer[k] = weights[k] * sum
		total += perLayer[k]
	}

	return total, perLayer, nil
}

// ContentLoss is the weighted squared feature distance at one layer
func ContentLoss(out, content []extractor.FeatureMap, layer int, weight float64) (float64, error) {
	if layer < 0 || layer >= len(out) || layer >= len(content) {
		return 0, fmt.Errorf("content layer %d out of range (network has %d layers)", layer, len(out))
	}

	a := out[layer].Data
	b := content[layer].Data
	if len(a) != len(b) {
		return 0, fmt.Errorf("layer %d: feature sizes differ (%d vs %d)", layer, len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return weight * sum, nil
}

// TVLoss is the weighted total variation of the image, computed on
// channel values scaled to [0, 1]
func TVLoss(img *image.RGBA, weight float64) float64 {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	var sum float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.RGBAAt(x, y)

			if x+1 < width {
				n := img.RGBAAt(x+1, y)
				sum += sqDiff(c.R, n.R) + sqDiff(c.G, n.G) + sqDiff(c.B, n.B)
			}
			if y+1 < height {
				n := img.RGBAAt(x, y+1)
				sum += sqDiff(c.R, n.R) + sqDiff(c.G, n.G) + sqDiff(c.B, n.B)
			}
		}
	}
	return weight * sum
}

func sqDiff(a, b uint8) float64 {
	d := (float64(a) - float64(b)) / 255
	return d * d
}

// Structure scores how much of the content's layout survives stylization:
// 1 minus the mean absolute grayscale difference, scaled to [0, 1].
func Structure(out, content image.Image) float64 {
	a := imaging.Gray8(out)
	b := imaging.Gray8(content)

	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		b = imaging.ScaleNearestGray(content, a.Bounds().Dx(), a.Bounds().Dy())
	}

	width := a.Bounds().Dx()
	height := a.Bounds().Dy()
	if width == 0 || height == 0 {
		return 0
	}

	var sum float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum += math.Abs(float64(a.GrayAt(x, y).Y) - float64(b.GrayAt(x, y).Y))
		}
	}

	meanDiff := sum / float64(width*height)
	return 1.0 - meanDiff/255.0
}

// Report holds every metric of one stylization run
type Report struct {
	ContentLoss   float64
	StyleLoss     float64
	TVLoss        float64
	TotalLoss     float64
	Structure     float64
	PerLayerStyle []float64
}

// Scorer evaluates outputs. Without a feature network it still produces
// total variation and structure; the feature losses stay zero.
type Scorer struct {
	ex *extractor.Extractor
}

// NewScorer wraps a feature extractor, which may be nil
func NewScorer(ex *extractor.Extractor) *Scorer {
	return &Scorer{ex: ex}
}

// HasFeatures reports whether feature-space losses are available
func (s *Scorer) HasFeatures() bool {
	return s != nil && s.ex != nil
}

// Score measures one output against its content and style references using
// the weights of the transfer record
func (s *Scorer) Score(out, content, style *image.RGBA, p params.Transfer) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %v", err)
	}

	r := &Report{
		TVLoss:    TVLoss(out, p.TVWeight),
		Structure: Structure(out, content),
	}

	if s.HasFeatures() {
		outF, err := s.ex.Extract(out)
		if err != nil {
			return nil, err
		}
		contentF, err := s.ex.Extract(content)
		if err != nil {
			return nil, err
		}
		styleF, err := s.ex.Extract(style)
		if err != nil {
			return nil, err
		}

		r.ContentLoss, err = ContentLoss(outF, contentF, p.ContentLayer, p.ContentWeight)
		if err != nil {
			return nil, err
		}

		r.StyleLoss, r.PerLayerStyle, err = StyleLoss(outF, styleF, p.StyleLayers, p.StyleWeights)
		if err != nil {
			return nil, err
		}
	}

	r.TotalLoss = r.ContentLoss + r.StyleLoss + r.TVLoss
	return r, nil
}
