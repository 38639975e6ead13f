// Package styles manages the library of style images and their optional
// feed-forward stylization models.
package styles

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stylesweep/imaging"
	"stylesweep/logging"

	"github.com/barasher/go-exiftool"
)

// Style is one entry of the library. ModelPath is empty when no
// feed-forward model exists for the style.
type Style struct {
	Name      string
	Path      string
	ModelPath string
	Artist    string
	Title     string
}

// Library is the set of styles discovered in a folder. Style names are the
// image file stems; models are matched by the same stem under the models
// folder.
type Library struct {
	dir       string
	modelsDir string
	styles    map[string]Style
	names     []string
}

// OpenLibrary scans stylesDir for style images and pairs each with a model
// file from modelsDir when one exists
func OpenLibrary(stylesDir, modelsDir string) (*Library, error) {
	entries, err := os.ReadDir(stylesDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read styles folder %s: %v", stylesDir, err)
	}

	lib := &Library{
		dir:       stylesDir,
		modelsDir: modelsDir,
		styles:    make(map[string]Style),
	}

	for _, entry := range entries {
		if entry.IsDir() || !imaging.IsSupportedImage(entry.Name()) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		style := Style{
			Name: name,
			Path: filepath.Join(stylesDir, entry.Name()),
		}

		if modelsDir != "" {
			modelPath := filepath.Join(modelsDir, name+".onnx")
			if _, err := os.Stat(modelPath); err == nil {
				style.ModelPath = modelPath
			}
		}

		lib.styles[name] = style
		lib.names = append(lib.names, name)
	}

	if len(lib.names) == 0 {
		return nil, fmt.Errorf("no style images found in %s", stylesDir)
	}

	sort.Strings(lib.names)
	return lib, nil
}

// Names returns all style names in sorted order
func (l *Library) Names() []string {
	return append([]string(nil), l.names...)
}

// Get looks up a style by name
func (l *Library) Get(name string) (Style, error) {
	style, ok := l.styles[name]
	if !ok {
		return Style{}, fmt.Errorf("unknown style '%s' (available: %s)", name, strings.Join(l.names, ", "))
	}
	return style, nil
}

// LoadImage decodes a style image at the working size
func (l *Library) LoadImage(name string, size int) (*image.RGBA, error) {
	style, err := l.Get(name)
	if err != nil {
		return nil, err
	}

	img, _, err := imaging.Load(style.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load style %s: %v", style.Path, err)
	}
	return imaging.ResizeSquare(img, size), nil
}

// AnnotateFromMetadata fills Artist and Title from embedded image metadata.
// Extraction is best effort: a missing exiftool binary or unreadable tags
// only produce warnings.
func (l *Library) AnnotateFromMetadata() {
	et, err := exiftool.NewExiftool()
	if err != nil {
		logging.LogWarning("exiftool unavailable, style metadata skipped: %v", err)
		return
	}
	defer et.Close()

	paths := make([]string, 0, len(l.names))
	for _, name := range l.names {
		paths = append(paths, l.styles[name].Path)
	}

	for _, meta := range et.ExtractMetadata(paths...) {
		if meta.Err != nil {
			logging.LogWarning("metadata extraction failed for %s: %v", meta.File, meta.Err)
			continue
		}

		name := strings.TrimSuffix(filepath.Base(meta.File), filepath.Ext(meta.File))
		style, ok := l.styles[name]
		if !ok {
			continue
		}

		if artist, err := meta.GetString("Artist"); err == nil {
			style.Artist = artist
		}
		if title, err := meta.GetString("Title"); err == nil {
			style.Title = title
		} else if title, err := meta.GetString("ObjectName"); err == nil {
			style.Title = title
		}

		l.styles[name] = style
	}
}

// DuplicatePair records two styles whose average hashes are close
type DuplicatePair struct {
	A        string
	B        string
	Distance int
}

// FindDuplicates compares all styles pairwise by average hash and returns
// pairs within maxDistance bits of each other
func (l *Library) FindDuplicates(maxDistance int) ([]DuplicatePair, error) {
	hashes := make(map[string]string, len(l.names))
	for _, name := range l.names {
		img, _, err := imaging.Load(l.styles[name].Path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash style %s: %v", name, err)
		}
		hashes[name] = imaging.AverageHash(img)
	}

	var pairs []DuplicatePair
	for i := 0; i < len(l.names); i++ {
		for j := i + 1; j < len(l.names); j++ {
			dist := imaging.HammingDistance(hashes[l.names[i]], hashes[l.names[j]])
			if dist <= maxDistance {
				pairs = append(pairs, DuplicatePair{A: l.names[i], B: l.names[j], Distance: dist})
			}
		}
	}
	return pairs, nil
}
