package model

import (
	"context"
	"errors"
	"image"
)

// Prediction modes reported back to clients.
const (
	ModeDemo     = "demo"
	ModeFilename = "filename"
	ModeONNX     = "onnx"
)

var (
	ErrNoFilenameMatch = errors.New("file name does not name a sign")
	ErrNoInput         = errors.New("no image or tensor provided")
)

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	// Layout is "nhwc" (browser order) or "nchw".
	Layout string `json:"layout"`
	Logits bool   `json:"logits"`
}

// InputSize is the number of float32 values the model expects per request.
func (m Metadata) InputSize() int {
	if len(m.InputShape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range m.InputShape {
		n *= int(dim)
	}
	return n
}

// Input is what a Predictor receives. Tensor wins over Image when both are set.
type Input struct {
	Image    image.Image
	Tensor   []float32
	FileName string
	Raw      []byte
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type Prediction struct {
	Class       string             `json:"prediction"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions,omitempty"`
	Mode        string             `json:"mode"`
	FileName    string             `json:"fileName,omitempty"`
}

type Predictor interface {
	Name() string
	Predict(ctx context.Context, in Input) (*Prediction, error)
	Close() error
}
