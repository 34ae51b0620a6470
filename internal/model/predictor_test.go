package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelFromFilename(t *testing.T) {
	cases := []struct {
		name  string
		label string
		ok    bool
	}{
		{"hand_sign_b.jpg", "b", true},
		{"sample-7.png", "7", true},
		{"/tmp/uploads/A.jpeg", "a", true},
		{`C:\photos\sign x.png`, "x", true},
		{"a_then_b.png", "b", true},
		{"IMG_0012.jpg", "", false},
		{"photo.png", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label, ok := LabelFromFilename(tc.name)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.label, label)
		})
	}
}

func TestFilenamePredictorConfidenceIsStable(t *testing.T) {
	p := NewFilenamePredictor()
	ctx := context.Background()

	first, err := p.Predict(ctx, Input{FileName: "sign_q.png"})
	require.NoError(t, err)
	second, err := p.Predict(ctx, Input{FileName: "sign_q.png"})
	require.NoError(t, err)

	require.Equal(t, "q", first.Class)
	require.Equal(t, ModeFilename, first.Mode)
	require.Equal(t, first.Confidence, second.Confidence)
	require.GreaterOrEqual(t, first.Confidence, float32(0.90))
	require.LessOrEqual(t, first.Confidence, float32(0.99))

	_, err = p.Predict(ctx, Input{FileName: "selfie.png"})
	require.ErrorIs(t, err, ErrNoFilenameMatch)
}

func TestDemoPredictorRange(t *testing.T) {
	d := NewDemoPredictor(42)
	for i := 0; i < 200; i++ {
		got, err := d.Predict(context.Background(), Input{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, IndexOf(got.Class), 0)
		require.GreaterOrEqual(t, got.Confidence, float32(DemoMinConfidence))
		require.Less(t, got.Confidence, float32(DemoMinConfidence+DemoConfidenceSpread))
		require.Equal(t, ModeDemo, got.Mode)
	}
}

func TestDemoConfidenceBounds(t *testing.T) {
	upper := float32(DemoMinConfidence + DemoConfidenceSpread)

	require.Equal(t, float32(DemoMinConfidence), demoConfidence(0))
	require.Less(t, demoConfidence(math.Nextafter(1, 0)), upper)
	require.Less(t, demoConfidence(0.99999999), upper)
	require.InDelta(t, 0.87, demoConfidence(0.5), 1e-6)
}

func TestDemoPredictorSeeded(t *testing.T) {
	a, err := NewDemoPredictor(7).Predict(context.Background(), Input{})
	require.NoError(t, err)
	b, err := NewDemoPredictor(7).Predict(context.Background(), Input{})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDemoPredictorHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDemoPredictor(1).Predict(ctx, Input{})
	require.ErrorIs(t, err, context.Canceled)
}

type stubPredictor struct {
	name   string
	result *Prediction
	err    error
	calls  int
	closed bool
}

func (s *stubPredictor) Name() string { return s.name }
func (s *stubPredictor) Predict(_ context.Context, _ Input) (*Prediction, error) {
	s.calls++
	return s.result, s.err
}
func (s *stubPredictor) Close() error {
	s.closed = true
	return nil
}

func TestChainFallsThroughOnFilenameMiss(t *testing.T) {
	model := &stubPredictor{name: "stub", result: &Prediction{Class: "k", Mode: "stub"}}
	chain := Chain{NewFilenamePredictor(), model}
	require.Equal(t, "filename+stub", chain.Name())

	got, err := chain.Predict(context.Background(), Input{FileName: "sign_d.png"})
	require.NoError(t, err)
	require.Equal(t, "d", got.Class)
	require.Zero(t, model.calls)

	got, err = chain.Predict(context.Background(), Input{FileName: "holiday.png"})
	require.NoError(t, err)
	require.Equal(t, "k", got.Class)
	require.Equal(t, 1, model.calls)
}

func TestChainStopsOnRealError(t *testing.T) {
	boom := errors.New("boom")
	first := &stubPredictor{name: "first", err: boom}
	second := &stubPredictor{name: "second", result: &Prediction{Class: "a"}}

	_, err := Chain{first, second}.Predict(context.Background(), Input{})
	require.ErrorIs(t, err, boom)
	require.Zero(t, second.calls)
}

func TestRank(t *testing.T) {
	classes := Labels()
	scores := make([]float32, NumLabels)
	scores[11] = 0.8
	scores[3] = 0.15

	got, err := Rank(scores, classes, false)
	require.NoError(t, err)
	require.Equal(t, "b", got.Class)
	require.InDelta(t, 0.8, got.Confidence, 1e-6)
	require.Len(t, got.Predictions, NumLabels)
	require.Equal(t, ModeONNX, got.Mode)

	_, err = Rank(nil, classes, false)
	require.Error(t, err)
}

func TestRankSoftmax(t *testing.T) {
	got, err := Rank([]float32{1, 3, 2}, []string{"x", "y", "z"}, true)
	require.NoError(t, err)
	require.Equal(t, "y", got.Class)

	var sum float32
	for _, v := range got.Predictions {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-5)
	require.InDelta(t, 0.665, got.Confidence, 1e-3)
}
