package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"gocv.io/x/gocv"

	"stylesweep/imaging"
	"stylesweep/params"
	"stylesweep/styles"
)

// ColorStat transfers the style image's color statistics onto the content:
// both go to Lab space and every content channel is shifted and scaled to
// the style's mean and deviation. It handles any style, so it sits last in
// the fallback chain.
type ColorStat struct {
	// SmoothChroma blurs the a/b channels after matching to calm speckle
	SmoothChroma bool
}

// NewColorStat creates the color statistics backend
func NewColorStat() *ColorStat {
	return &ColorStat{SmoothChroma: true}
}

// Name implements Stylizer
func (c *ColorStat) Name() string {
	return "colorstat"
}

// CanStyle implements Stylizer; any style image works
func (c *ColorStat) CanStyle(style styles.Style) bool {
	return style.Path != ""
}

// Stylize recolors the content image with the style's Lab statistics
func (c *ColorStat) Stylize(content *image.RGBA, style styles.Style, p params.Transfer) (*image.RGBA, error) {
	contentMat, err := matFromImage(content)
	if err != nil {
		return nil, err
	}
	defer contentMat.Close()

	styleMat := gocv.IMRead(style.Path, gocv.IMReadColor)
	if styleMat.Empty() {
		return nil, fmt.Errorf("cannot read style image %s", style.Path)
	}
	defer styleMat.Close()

	contentLab := toLab(contentMat)
	defer contentLab.Close()
	styleLab := toLab(styleMat)
	defer styleLab.Close()

	contentCh := gocv.Split(contentLab)
	styleCh := gocv.Split(styleLab)
	defer closeAll(contentCh)
	defer closeAll(styleCh)

	if len(contentCh) != 3 || len(styleCh) != 3 {
		return nil, fmt.Errorf("expected 3 Lab channels, got %d and %d", len(contentCh), len(styleCh))
	}

	matched := make([]gocv.Mat, 3)
	for i := 0; i < 3; i++ {
		matched[i] = matchChannel(contentCh[i], styleCh[i])
	}
	defer closeAll(matched)

	if c.SmoothChroma {
		for i := 1; i < 3; i++ {
			blurred := gocv.NewMat()
			gocv.GaussianBlur(matched[i], &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
			matched[i].Close()
			matched[i] = blurred
		}
	}

	outLab := gocv.NewMat()
	defer outLab.Close()
	gocv.Merge(matched, &outLab)

	outBGR := gocv.NewMat()
	defer outBGR.Close()
	gocv.CvtColor(outLab, &outBGR, gocv.ColorLabToBGR)

	out8 := gocv.NewMat()
	defer out8.Close()
	outBGR.ConvertToWithParams(&out8, gocv.MatTypeCV8U, 255, 0)

	img, err := out8.ToImage()
	if err != nil {
		return nil, fmt.Errorf("cannot convert result to image: %v", err)
	}
	return imaging.ToRGBA(img), nil
}

// matFromImage converts an in-memory image to a BGR Mat
func matFromImage(img *image.RGBA) (gocv.Mat, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return gocv.NewMat(), fmt.Errorf("cannot encode image: %v", err)
	}

	mat, err := gocv.IMDecode(buf.Bytes(), gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if !mat.Empty() {
		mat.Close()
	}
	return gocv.NewMat(), fmt.Errorf("cannot decode image into mat")
}

// toLab converts an 8-bit BGR Mat to floating point Lab
func toLab(bgr gocv.Mat) gocv.Mat {
	f := gocv.NewMat()
	defer f.Close()
	bgr.ConvertToWithParams(&f, gocv.MatTypeCV32F, 1.0/255.0, 0)

	lab := gocv.NewMat()
	gocv.CvtColor(f, &lab, gocv.ColorBGRToLab)
	return lab
}

// matchChannel shifts and scales a content channel to the style channel's
// mean and standard deviation. A flat content channel takes the style mean.
func matchChannel(content, style gocv.Mat) gocv.Mat {
	cMean, cStd := channelStats(content)
	sMean, sStd := channelStats(style)

	alpha := 0.0
	if cStd > 1e-6 {
		alpha = sStd / cStd
	}
	beta := sMean - cMean*alpha

	out := gocv.NewMat()
	content.ConvertToWithParams(&out, gocv.MatTypeCV32F, float32(alpha), float32(beta))
	return out
}

func channelStats(ch gocv.Mat) (float64, float64) {
	mean := gocv.NewMat()
	defer mean.Close()
	stdDev := gocv.NewMat()
	defer stdDev.Close()

	gocv.MeanStdDev(ch, &mean, &stdDev)
	return mean.GetDoubleAt(0, 0), stdDev.GetDoubleAt(0, 0)
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
