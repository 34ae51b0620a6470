package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXPredictor runs the exported sign classifier through onnxruntime.
// The session reuses one pair of tensors, so calls are serialized.
type ONNXPredictor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	interp       resize.InterpolationFunction
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

type ONNXOptions struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	Interpolation     string
}

// LoadMetadata reads model_metadata.json and fills in defaults for the sign model.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if len(metadata.Classes) == 0 {
		metadata.Classes = Labels()
	}
	if err := ValidateLabels(metadata.Classes); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata classes: %w", err)
	}
	if metadata.ImageSize == 0 {
		metadata.ImageSize = DefaultImageSize
	}
	if metadata.Layout == "" {
		metadata.Layout = LayoutNHWC
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if len(metadata.InputShape) == 0 {
		s := int64(metadata.ImageSize)
		if metadata.Layout == LayoutNCHW {
			metadata.InputShape = []int64{1, 3, s, s}
		} else {
			metadata.InputShape = []int64{1, s, s, 3}
		}
	}
	if len(metadata.OutputShape) == 0 {
		metadata.OutputShape = []int64{1, NumLabels}
	}
	return metadata, nil
}

func NewONNXPredictor(opts ONNXOptions) (*ONNXPredictor, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXPredictor{
		session:      session,
		Metadata:     metadata,
		interp:       Interpolation(opts.Interpolation),
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (p *ONNXPredictor) Name() string { return ModeONNX }

func (p *ONNXPredictor) Predict(ctx context.Context, in Input) (*Prediction, error) {
	data := in.Tensor
	if data == nil {
		if in.Image == nil {
			return nil, ErrNoInput
		}
		data = Preprocess(in.Image, p.Metadata.ImageSize, p.Metadata.Layout, p.interp)
	}
	if want := p.Metadata.InputSize(); len(data) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(data))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.inputTensor.GetData(), data)
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(p.outputTensor.GetData()))
	copy(out, p.outputTensor.GetData())

	result, err := Rank(out, p.Metadata.Classes, p.Metadata.Logits)
	if err != nil {
		return nil, err
	}
	result.FileName = in.FileName
	return result, nil
}

func (p *ONNXPredictor) Close() error {
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
	if p.session != nil {
		p.session.Destroy()
	}
	return ort.DestroyEnvironment()
}

// Rank picks the highest scoring class. When logits is set the scores are
// passed through softmax first so the confidence is a probability.
func Rank(scores []float32, classes []string, logits bool) (*Prediction, error) {
	n := min(len(scores), len(classes))
	if n == 0 {
		return nil, fmt.Errorf("empty model output")
	}
	if logits {
		scores = softmax(scores[:n])
	}

	maxIdx := 0
	maxVal := scores[0]
	predictions := make(map[string]float32, n)
	for i := 0; i < n; i++ {
		predictions[classes[i]] = scores[i]
		if scores[i] > maxVal {
			maxVal = scores[i]
			maxIdx = i
		}
	}

	return &Prediction{
		Class:       classes[maxIdx],
		Confidence:  maxVal,
		Predictions: predictions,
		Mode:        ModeONNX,
	}, nil
}

func softmax(in []float32) []float32 {
	out := make([]float32, len(in))
	maxVal := in[0]
	for _, v := range in[1:] {
		maxVal = max(maxVal, v)
	}
	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
