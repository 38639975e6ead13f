// Package engine turns content images into stylized outputs. Backends
// implement the Stylizer interface and register in a fallback chain: the
// first backend that can handle a style gets it.
package engine

import (
	"fmt"
	"image"

	"stylesweep/dataset"
	"stylesweep/logging"
	"stylesweep/params"
	"stylesweep/styles"
)

// Stylizer renders a content image in the manner of a style image
type Stylizer interface {
	// Name identifies the backend in ledgers and logs
	Name() string
	// CanStyle reports whether this backend can handle the style
	CanStyle(style styles.Style) bool
	// Stylize returns a stylized image with the same bounds as content
	Stylize(content *image.RGBA, style styles.Style, p params.Transfer) (*image.RGBA, error)
}

// Registry holds stylization backends in priority order
type Registry struct {
	backends []Stylizer
}

// NewRegistry creates a registry with the given backends, first preferred
func NewRegistry(backends ...Stylizer) *Registry {
	return &Registry{backends: backends}
}

// Register appends a backend to the fallback chain
func (r *Registry) Register(s Stylizer) {
	r.backends = append(r.backends, s)
}

// Names lists the registered backends in priority order
func (r *Registry) Names() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Name()
	}
	return names
}

// Pick returns the first backend that can handle the style. When forced is
// non-empty only the backend with that name is considered.
func (r *Registry) Pick(style styles.Style, forced string) (Stylizer, error) {
	for _, b := range r.backends {
		if forced != "" && b.Name() != forced {
			continue
		}
		if b.CanStyle(style) {
			return b, nil
		}
	}

	if forced != "" {
		return nil, fmt.Errorf("backend '%s' cannot style '%s'", forced, style.Name)
	}
	return nil, fmt.Errorf("no backend can style '%s'", style.Name)
}

// Request describes one stylization: a content image, a background style
// and optionally a foreground style applied through the mask.
type Request struct {
	Content *image.RGBA
	Mask    *dataset.Mask
	BG      styles.Style
	FG      *styles.Style
	Params  params.Transfer

	// ForceBackend restricts backend selection to one name
	ForceBackend string
}

// Result is a finished stylization with the backends that produced it
type Result struct {
	Image     *image.RGBA
	BGBackend string
	FGBackend string
}

// Apply runs one stylization. The background style always covers the whole
// frame; when a foreground style is present the mask blends the two, with a
// feathered boundary so the seam does not show.
func Apply(reg *Registry, req Request) (*Result, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("no content image")
	}
	if err := req.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %v", err)
	}
	if req.FG != nil && !req.Params.MaskStyles {
		return nil, fmt.Errorf("foreground style '%s' supplied but style masking is disabled", req.FG.Name)
	}

	width := req.Content.Bounds().Dx()
	height := req.Content.Bounds().Dy()

	bgBackend, err := reg.Pick(req.BG, req.ForceBackend)
	if err != nil {
		return nil, err
	}

	bgImg, err := bgBackend.Stylize(req.Content, req.BG, req.Params)
	if err != nil {
		return nil, fmt.Errorf("background stylization with '%s' failed: %v", bgBackend.Name(), err)
	}
	if bgImg.Bounds().Dx() != width || bgImg.Bounds().Dy() != height {
		return nil, fmt.Errorf("backend '%s' returned %dx%d for %dx%d content",
			bgBackend.Name(), bgImg.Bounds().Dx(), bgImg.Bounds().Dy(), width, height)
	}

	result := &Result{Image: bgImg, BGBackend: bgBackend.Name()}

	if req.FG != nil {
		if req.Mask == nil {
			return nil, fmt.Errorf("foreground style '%s' requires a segmentation mask", req.FG.Name)
		}
		if err := req.Mask.Validate(width, height); err != nil {
			return nil, err
		}

		fgBackend, err := reg.Pick(*req.FG, req.ForceBackend)
		if err != nil {
			return nil, err
		}

		fgImg, err := fgBackend.Stylize(req.Content, *req.FG, req.Params)
		if err != nil {
			return nil, fmt.Errorf("foreground stylization with '%s' failed: %v", fgBackend.Name(), err)
		}
		if fgImg.Bounds().Dx() != width || fgImg.Bounds().Dy() != height {
			return nil, fmt.Errorf("backend '%s' returned %dx%d for %dx%d content",
				fgBackend.Name(), fgImg.Bounds().Dx(), fgImg.Bounds().Dy(), width, height)
		}

		soft := req.Mask.Feather(featherRadius(width, height))
		composite, err := Composite(bgImg, fgImg, soft)
		if err != nil {
			return nil, err
		}

		result.Image = composite
		result.FGBackend = fgBackend.Name()

		logging.DebugLog("Composited '%s' over '%s' (coverage %.3f)",
			req.FG.Name, req.BG.Name, req.Mask.Coverage())
	}

	if req.Params.PreserveColor {
		result.Image = PreserveColor(req.Content, result.Image)
	}

	return result, nil
}

// featherRadius scales the mask feather with the working size
func featherRadius(width, height int) int {
	side := width
	if height < side {
		side = height
	}
	r := side / 50
	if r < 1 {
		r = 1
	}
	return r
}
