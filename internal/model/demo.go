package model

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Demo confidences land in [DemoMinConfidence, DemoMinConfidence+DemoConfidenceSpread).
const (
	DemoMinConfidence    = 0.75
	DemoConfidenceSpread = 0.24
)

// DemoPredictor answers with a random sign. It stands in when no model is
// available so the rest of the pipeline can still be exercised.
type DemoPredictor struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDemoPredictor(seed uint64) *DemoPredictor {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &DemoPredictor{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (d *DemoPredictor) Name() string { return ModeDemo }

func (d *DemoPredictor) Predict(ctx context.Context, in Input) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	idx := d.rng.IntN(NumLabels)
	confidence := demoConfidence(d.rng.Float64())
	d.mu.Unlock()

	return &Prediction{
		Class:      labels[idx],
		Confidence: confidence,
		Mode:       ModeDemo,
		FileName:   in.FileName,
	}, nil
}

func (d *DemoPredictor) Close() error { return nil }

// demoConfidence maps u in [0,1) onto the demo range. The sum is done in
// float64 and clamped so float32 rounding cannot reach the upper bound.
func demoConfidence(u float64) float32 {
	upper := float32(DemoMinConfidence + DemoConfidenceSpread)
	c := float32(DemoMinConfidence + u*DemoConfidenceSpread)
	if c >= upper {
		c = math.Nextafter32(upper, 0)
	}
	return c
}
