package metrics

import (
	"image"
	"image/color"
	"testing"

	"stylesweep/extractor"
	"stylesweep/params"

	"github.com/stretchr/testify/require"
)

func featureMap(layer string, channels, size int, values []float32) extractor.FeatureMap {
	return extractor.FeatureMap{
		Layer:    layer,
		Channels: channels,
		Height:   size,
		Width:    size,
		Data:     values,
	}
}

func TestGramSmallMap(t *testing.T) {
	// 2 channels over 2x1... use 2 channels, 1x2 spatial
	f := extractor.FeatureMap{Channels: 2, Height: 1, Width: 2, Data: []float32{1, 2, 3, 4}}

	gram, err := Gram(f)
	require.NoError(t, err)
	require.Len(t, gram, 4)

	// norm = C * H * W = 4
	require.InDelta(t, (1*1+2*2)/4.0, gram[0], 1e-9)
	require.InDelta(t, (1*3+2*4)/4.0, gram[1], 1e-9)
	require.InDelta(t, gram[1], gram[2], 1e-12)
	require.InDelta(t, (3*3+4*4)/4.0, gram[3], 1e-9)
}

func TestGramQuadraticInActivations(t *testing.T) {
	f := extractor.FeatureMap{Channels: 2, Height: 1, Width: 2, Data: []float32{1, 2, 3, 4}}
	doubled := extractor.FeatureMap{Channels: 2, Height: 1, Width: 2, Data: []float32{2, 4, 6, 8}}

	g, err := Gram(f)
	require.NoError(t, err)
	g2, err := Gram(doubled)
	require.NoError(t, err)

	for i := range g {
		require.InDelta(t, 4*g[i], g2[i], 1e-9)
	}
}

func TestGramRejectsBadShape(t *testing.T) {
	f := extractor.FeatureMap{Channels: 2, Height: 2, Width: 2, Data: []float32{1, 2, 3}}
	_, err := Gram(f)
	require.Error(t, err)
}

func TestStyleLossZeroForIdenticalFeatures(t *testing.T) {
	feats := []extractor.FeatureMap{
		featureMap("a", 2, 2, []float32{1, 2, 3, 4, 5, 6, 7, 8}),
		featureMap("b", 2, 2, []float32{8, 7, 6, 5, 4, 3, 2, 1}),
	}

	total, perLayer, err := StyleLoss(feats, feats, []int{0, 1}, []float64{10, 20})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Equal(t, []float64{0, 0}, perLayer)
}

func TestStyleLossScalesLinearlyWithWeights(t *testing.T) {
	out := []extractor.FeatureMap{featureMap("a", 2, 2, []float32{1, 2, 3, 4, 5, 6, 7, 8})}
	style := []extractor.FeatureMap{featureMap("a", 2, 2, []float32{2, 3, 4, 5, 6, 7, 8, 9})}

	base, _, err := StyleLoss(out, style, []int{0}, []float64{1})
	require.NoError(t, err)
	require.Greater(t, base, 0.0)

	for _, factor := range []float64{0.5, 2, 100} {
		scaled, perLayer, err := StyleLoss(out, style, []int{0}, params.ScaleStyleWeights([]float64{1}, factor))
		require.NoError(t, err)
		require.InDelta(t, base*factor, scaled, 1e-9*factor)
		require.InDelta(t, scaled, perLayer[0], 1e-12)
	}
}

func TestStyleLossLayerOutOfRange(t *testing.T) {
	feats := []extractor.FeatureMap{featureMap("a", 1, 2, []float32{1, 2, 3, 4})}
	_, _, err := StyleLoss(feats, feats, []int{3}, []float64{1})
	require.Error(t, err)
}

func TestContentLoss(t *testing.T) {
	a := []extractor.FeatureMap{featureMap("a", 1, 2, []float32{1, 2, 3, 4})}
	b := []extractor.FeatureMap{featureMap("a", 1, 2, []float32{1, 2, 3, 6})}

	same, err := ContentLoss(a, a, 0, 6e-2)
	require.NoError(t, err)
	require.Zero(t, same)

	loss, err := ContentLoss(a, b, 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 4.0, loss, 1e-9)

	weighted, err := ContentLoss(a, b, 0, 0.25)
	require.NoError(t, err)
	require.InDelta(t, 1.0, weighted, 1e-9)
}

func uniformImage(size int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func checkerboard(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestTVLoss(t *testing.T) {
	require.Zero(t, TVLoss(uniformImage(8, 100), 2e-2))

	noisy := TVLoss(checkerboard(8), 1)
	smooth := TVLoss(uniformImage(8, 100), 1)
	require.Greater(t, noisy, smooth)

	// Weight is linear
	require.InDelta(t, noisy*0.5, TVLoss(checkerboard(8), 0.5), 1e-9)
}

func TestStructureScore(t *testing.T) {
	img := checkerboard(8)
	require.InDelta(t, 1.0, Structure(img, img), 1e-9)

	black := uniformImage(8, 0)
	white := uniformImage(8, 255)
	require.InDelta(t, 0.0, Structure(black, white), 1e-9)

	mid := Structure(uniformImage(8, 100), uniformImage(8, 200))
	require.Greater(t, mid, 0.0)
	require.Less(t, mid, 1.0)
}

func TestStructureResizesSecondImage(t *testing.T) {
	score := Structure(uniformImage(8, 128), uniformImage(16, 128))
	require.InDelta(t, 1.0, score, 1e-9)
}

func TestScorerWithoutFeatures(t *testing.T) {
	s := NewScorer(nil)
	require.False(t, s.HasFeatures())

	out := checkerboard(8)
	content := uniformImage(8, 128)
	style := uniformImage(8, 20)

	p := params.Defaults()
	report, err := s.Score(out, content, style, p)
	require.NoError(t, err)

	require.Zero(t, report.ContentLoss)
	require.Zero(t, report.StyleLoss)
	require.Greater(t, report.TVLoss, 0.0)
	require.Equal(t, report.TVLoss, report.TotalLoss)
	require.Greater(t, report.Structure, 0.0)
}

func TestScorerRejectsInvalidParams(t *testing.T) {
	s := NewScorer(nil)
	p := params.Defaults()
	p.TVWeight = -1

	_, err := s.Score(uniformImage(4, 0), uniformImage(4, 0), uniformImage(4, 0), p)
	require.Error(t, err)
}
