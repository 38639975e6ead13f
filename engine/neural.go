package engine

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"stylesweep/extractor"
	"stylesweep/imaging"
	"stylesweep/logging"
	"stylesweep/params"
	"stylesweep/styles"
)

// modelMeta describes one feed-forward model's tensor names and input size.
// An optional <style>.json next to the .onnx file overrides the defaults.
type modelMeta struct {
	InputName  string `json:"input"`
	OutputName string `json:"output"`
	ImageSize  int    `json:"image_size"`
}

func loadModelMeta(modelPath string) modelMeta {
	meta := modelMeta{InputName: "input1", OutputName: "output1", ImageSize: 224}

	sidecar := strings.TrimSuffix(modelPath, ".onnx") + ".json"
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		return meta
	}

	var loaded modelMeta
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logging.LogWarning("ignoring malformed model sidecar %s: %v", sidecar, err)
		return meta
	}

	if loaded.InputName != "" {
		meta.InputName = loaded.InputName
	}
	if loaded.OutputName != "" {
		meta.OutputName = loaded.OutputName
	}
	if loaded.ImageSize > 0 {
		meta.ImageSize = loaded.ImageSize
	}
	return meta
}

type neuralSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
}

// Neural stylizes through per-style feed-forward ONNX models. Sessions are
// created on first use and cached for the rest of the sweep.
type Neural struct {
	mu       sync.Mutex
	sessions map[string]*neuralSession
}

// NewNeural creates the feed-forward backend
func NewNeural() *Neural {
	return &Neural{sessions: make(map[string]*neuralSession)}
}

// Name implements Stylizer
func (n *Neural) Name() string {
	return "neural"
}

// CanStyle reports whether a feed-forward model exists for the style
func (n *Neural) CanStyle(style styles.Style) bool {
	return style.ModelPath != ""
}

func (n *Neural) sessionFor(style styles.Style) (*neuralSession, error) {
	if s, ok := n.sessions[style.Name]; ok {
		return s, nil
	}

	if err := extractor.InitRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %v", err)
	}

	meta := loadModelMeta(style.ModelPath)
	shape := ort.NewShape(1, 3, int64(meta.ImageSize), int64(meta.ImageSize))

	input, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %v", err)
	}

	output, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %v", err)
	}

	session, err := ort.NewAdvancedSession(style.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to load model %s: %v", style.ModelPath, err)
	}

	s := &neuralSession{session: session, input: input, output: output, size: meta.ImageSize}
	n.sessions[style.Name] = s

	logging.DebugLog("Loaded feed-forward model for style '%s' (%dpx)", style.Name, meta.ImageSize)
	return s, nil
}

// Stylize runs the style's model over the content image. The transfer
// record travels to the ledger; the feed-forward pass has its weights baked
// into the model.
func (n *Neural) Stylize(content *image.RGBA, style styles.Style, p params.Transfer) (*image.RGBA, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sess, err := n.sessionFor(style)
	if err != nil {
		return nil, err
	}

	width := content.Bounds().Dx()
	height := content.Bounds().Dy()

	copy(sess.input.GetData(), imageToCHW255(content, sess.size))

	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("stylization failed for '%s': %v", style.Name, err)
	}

	out := chwToRGBA(sess.output.GetData(), sess.size)
	if sess.size != width || sess.size != height {
		out = imaging.ResizeTo(out, width, height)
	}
	return out, nil
}

// Close destroys all cached sessions
func (n *Neural) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for name, s := range n.sessions {
		s.input.Destroy()
		s.output.Destroy()
		s.session.Destroy()
		delete(n.sessions, name)
	}
}

// imageToCHW255 resizes and lays the image out as planar RGB float32 in
// the 0..255 range the stylization models were trained on
func imageToCHW255(img *image.RGBA, size int) []float32 {
	rgba := img
	if img.Bounds().Dx() != size || img.Bounds().Dy() != size {
		rgba = imaging.ResizeSquare(img, size)
	}

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := rgba.RGBAAt(x, y)
			idx := y*size + x
			data[idx] = float32(c.R)
			data[plane+idx] = float32(c.G)
			data[2*plane+idx] = float32(c.B)
		}
	}
	return data
}

// chwToRGBA converts planar RGB float32 back to an image, clamping to 0..255
func chwToRGBA(data []float32, size int) *image.RGBA {
	plane := size * size
	out := image.NewRGBA(image.Rect(0, 0, size, size))

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			idx := y*size + x
			out.SetRGBA(x, y, color.RGBA{
				R: clampByte(data[idx]),
				G: clampByte(data[plane+idx]),
				B: clampByte(data[2*plane+idx]),
				A: 255,
			})
		}
	}
	return out
}

func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
