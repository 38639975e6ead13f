// Package params defines the hyperparameter record attached to every
// stylization run and the naming rule for output files.
package params

import "fmt"

// NumStyleLayers is the number of feature layers style statistics are
// matched on.
const NumStyleLayers = 5

// BaseStyleWeights are the per-layer style weights before scaling. Earlier
// layers carry much larger weights because their Gram entries are smaller.
var BaseStyleWeights = [NumStyleLayers]float64{300000, 1000, 15, 3, 1}

// Default weights and layer indices for the feature network
const (
	DefaultContentWeight = 6e-2
	DefaultTVWeight      = 2e-2
	DefaultIterations    = 200
	DefaultContentLayer  = 3
)

// DefaultStyleLayers are the feature layers whose Gram statistics are matched
var DefaultStyleLayers = [NumStyleLayers]int{1, 4, 6, 7, 9}

// Transfer is the full parameter set for one stylization run. It is a value
// type: every run gets its own copy so no run can mutate another's weights.
type Transfer struct {
	ContentWeight float64   `json:"content_weight"`
	StyleWeights  []float64 `json:"style_weights"`
	TVWeight      float64   `json:"tv_weight"`
	Iterations    int       `json:"iterations"`
	ContentLayer  int       `json:"content_layer"`
	StyleLayers   []int     `json:"style_layers"`
	MaskStyles    bool      `json:"mask_styles"`
	PreserveColor bool      `json:"preserve_color"`
}

// Defaults returns a Transfer with the standard weights at scale 1
func Defaults() Transfer {
	layers := make([]int, NumStyleLayers)
	copy(layers, DefaultStyleLayers[:])

	return Transfer{
		ContentWeight: DefaultContentWeight,
		StyleWeights:  ScaleStyleWeights(BaseStyleWeights[:], 1),
		TVWeight:      DefaultTVWeight,
		Iterations:    DefaultIterations,
		ContentLayer:  DefaultContentLayer,
		StyleLayers:   layers,
		MaskStyles:    true,
		PreserveColor: false,
	}
}

// ScaleStyleWeights multiplies every base weight by factor and returns a
// fresh slice. The base is never modified, so repeated calls with different
// factors stay independent.
func ScaleStyleWeights(base []float64, factor float64) []float64 {
	scaled := make([]float64, len(base))
	for i, w := range base {
		scaled[i] = w * factor
	}
	return scaled
}

// Clone returns a deep copy of t. Slices are copied so the clone shares no
// backing arrays with the original.
func (t Transfer) Clone() Transfer {
	c := t
	c.StyleWeights = append([]float64(nil), t.StyleWeights...)
	c.StyleLayers = append([]int(nil), t.StyleLayers...)
	return c
}

// Validate checks structural consistency of the record
func (t Transfer) Validate() error {
	if len(t.StyleWeights) != len(t.StyleLayers) {
		return fmt.Errorf("style weights (%d) and style layers (%d) differ in length",
			len(t.StyleWeights), len(t.StyleLayers))
	}
	if t.ContentWeight < 0 || t.TVWeight < 0 {
		return fmt.Errorf("negative loss weight")
	}
	for i, w := range t.StyleWeights {
		if w < 0 {
			return fmt.Errorf("negative style weight at layer position %d", i)
		}
	}
	if t.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", t.Iterations)
	}
	return nil
}

// OutputName builds the deterministic file name for one combination. The
// foreground suffix appears exactly when a foreground style is present:
//
//	3_starry_night.png
//	3_starry_night_wave.png
func OutputName(contentIdx int, bgStyle, fgStyle string) string {
	if fgStyle == "" {
		return fmt.Sprintf("%d_%s.png", contentIdx, bgStyle)
	}
	return fmt.Sprintf("%d_%s_%s.png", contentIdx, bgStyle, fgStyle)
}
