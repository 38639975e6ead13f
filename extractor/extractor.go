// Package extractor runs a pretrained feature network over images and
// returns per-layer activation maps. The network ships as an ONNX file with
// a JSON sidecar describing input size, normalization and output layers.
package extractor

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"stylesweep/imaging"
)

// Metadata is the sidecar description of the feature network
type Metadata struct {
	InputShape []int64     `json:"input_shape"`
	ImageSize  int         `json:"image_size"`
	Mean       [3]float32  `json:"mean"`
	Std        [3]float32  `json:"std"`
	Layers     []LayerInfo `json:"layers"`
}

// LayerInfo describes one output of the feature network
type LayerInfo struct {
	Name     string `json:"name"`
	Channels int    `json:"channels"`
	Size     int    `json:"size"`
}

// FeatureMap holds one layer's activations in CHW order
type FeatureMap struct {
	Layer    string
	Channels int
	Height   int
	Width    int
	Data     []float32
}

var (
	initOnce sync.Once
	initErr  error
)

// InitRuntime initializes the ONNX runtime environment once per process.
// Several sessions share the environment, so individual Close calls must
// not tear it down.
func InitRuntime() error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// ShutdownRuntime destroys the shared ONNX runtime environment. Call once
// at process exit, after every session is closed.
func ShutdownRuntime() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// Extractor wraps an ONNX session whose outputs are feature layers
type Extractor struct {
	session       *ort.AdvancedSession
	meta          Metadata
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
}

// Locate returns the feature network files under modelsDir, if present
func Locate(modelsDir string) (modelPath, metadataPath string, ok bool) {
	modelPath = filepath.Join(modelsDir, "features.onnx")
	metadataPath = filepath.Join(modelsDir, "features.json")

	if _, err := os.Stat(modelPath); err != nil {
		return "", "", false
	}
	if _, err := os.Stat(metadataPath); err != nil {
		return "", "", false
	}
	return modelPath, metadataPath, true
}

// Open loads the feature network and prepares one tensor per output layer
func Open(modelPath, metadataPath string) (*Extractor, error) {
	if err := InitRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %v", err)
	}

	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %v", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %v", err)
	}
	if len(meta.Layers) == 0 {
		return nil, fmt.Errorf("metadata %s lists no output layers", metadataPath)
	}
	if meta.ImageSize < 1 {
		return nil, fmt.Errorf("metadata %s has invalid image_size %d", metadataPath, meta.ImageSize)
	}

	inputShape := ort.NewShape(meta.InputShape...)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %v", err)
	}

	outputNames := make([]string, 0, len(meta.Layers))
	outputTensors := make([]*ort.Tensor[float32], 0, len(meta.Layers))
	arbitraryOutputs := make([]ort.ArbitraryTensor, 0, len(meta.Layers))

	for _, layer := range meta.Layers {
		shape := ort.NewShape(1, int64(layer.Channels), int64(layer.Size), int64(layer.Size))
		tensor, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			inputTensor.Destroy()
			for _, t := range outputTensors {
				t.Destroy()
			}
			return nil, fmt.Errorf("failed to create output tensor for layer %s: %v", layer.Name, err)
		}
		outputNames = append(outputNames, layer.Name)
		outputTensors = append(outputTensors, tensor)
		arbitraryOutputs = append(arbitraryOutputs, tensor)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, outputNames,
		[]ort.ArbitraryTensor{inputTensor}, arbitraryOutputs,
		nil)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("failed to create ONNX session: %v", err)
	}

	return &Extractor{
		session:       session,
		meta:          meta,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
	}, nil
}

// ImageSize returns the input resolution the network expects
func (e *Extractor) ImageSize() int {
	return e.meta.ImageSize
}

// NumLayers returns how many feature layers the network exposes
func (e *Extractor) NumLayers() int {
	return len(e.meta.Layers)
}

// Extract runs the network and returns a copy of every layer's activations.
// The copies are independent of the session tensors, so results survive the
// next Extract call.
func (e *Extractor) Extract(img image.Image) ([]FeatureMap, error) {
	input := Preprocess(img, e.meta.ImageSize, e.meta.Mean, e.meta.Std)
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("feature extraction failed: %v", err)
	}

	features := make([]FeatureMap, len(e.meta.Layers))
	for i, layer := range e.meta.Layers {
		src := e.outputTensors[i].GetData()
		data := make([]float32, len(src))
		copy(data, src)

		features[i] = FeatureMap{
			Layer:    layer.Name,
			Channels: layer.Channels,
			Height:   layer.Size,
			Width:    layer.Size,
			Data:     data,
		}
	}
	return features, nil
}

// Close releases the session and its tensors. The shared runtime
// environment stays up for other sessions.
func (e *Extractor) Close() {
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	for _, t := range e.outputTensors {
		t.Destroy()
	}
	if e.session != nil {
		e.session.Destroy()
	}
}

// Preprocess resizes the image and lays it out as planar CHW float32 with
// per-channel normalization
func Preprocess(img image.Image, size int, mean, std [3]float32) []float32 {
	rgba := imaging.ResizeSquare(img, size)

	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := rgba.RGBAAt(x, y)
			idx := y*size + x
			data[idx] = (float32(c.R)/255 - mean[0]) / std[0]
			data[plane+idx] = (float32(c.G)/255 - mean[1]) / std[1]
			data[2*plane+idx] = (float32(c.B)/255 - mean[2]) / std[2]
		}
	}
	return data
}
