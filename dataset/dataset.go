// Package dataset indexes content images with their segmentation masks and
// loads them at a common working size for stylization.
package dataset

import (
	"fmt"
	"image"

	"stylesweep/imaging"
	"stylesweep/types"
)

// Content is a content image and its mask loaded at the working size.
// Mask is nil when the catalog entry has no paired mask.
type Content struct {
	Entry types.ContentEntry
	Image *image.RGBA
	Mask  *Mask
}

// Load reads a cataloged content image and its mask, both rescaled to
// size x size. The photo is resampled with Lanczos, the mask with
// nearest-neighbor so labels survive the rescale.
func Load(entry types.ContentEntry, size int) (*Content, error) {
	img, _, err := imaging.Load(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load content %s: %v", entry.Path, err)
	}

	c := &Content{
		Entry: entry,
		Image: imaging.ResizeSquare(img, size),
	}

	if entry.MaskPath != "" {
		maskImg, _, err := imaging.Load(entry.MaskPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load mask %s: %v", entry.MaskPath, err)
		}
		c.Mask = FromImageScaled(maskImg, size, size)
	}

	return c, nil
}
