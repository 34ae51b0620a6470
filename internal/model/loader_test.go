package model

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoaderFallsBackToDemo(t *testing.T) {
	l, err := NewLoader(LoaderOptions{
		Open: func(context.Context) (Predictor, error) { return nil, errors.New("no model") },
		Seed: 3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusIdle, l.Snapshot().Status)

	got, err := l.Predict(context.Background(), Input{FileName: "upload.png"})
	require.NoError(t, err)
	require.Equal(t, ModeDemo, got.Mode)

	snap := l.Snapshot()
	require.Equal(t, StatusDemo, snap.Status)
	require.Equal(t, ModeDemo, snap.Mode)
	require.Equal(t, "upload.png", snap.FileName)
	require.Len(t, snap.Classes, NumLabels)
	require.NoError(t, l.Close())
}

func TestLoaderLoadsOnce(t *testing.T) {
	opens := 0
	stub := &stubPredictor{name: "stub", result: &Prediction{Class: "h", Mode: "stub"}}
	l, err := NewLoader(LoaderOptions{
		Open: func(context.Context) (Predictor, error) {
			opens++
			return stub, nil
		},
	})
	require.NoError(t, err)

	require.Equal(t, StatusReady, l.Load(context.Background()))
	require.Equal(t, StatusReady, l.Load(context.Background()))
	_, err = l.Predict(context.Background(), Input{})
	require.NoError(t, err)
	require.Equal(t, 1, opens)

	require.NoError(t, l.Close())
	require.True(t, stub.closed)
}

func TestLoaderWithoutOpenIsDemo(t *testing.T) {
	l, err := NewLoader(LoaderOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusDemo, l.Load(context.Background()))
	_, ok := l.Metadata()
	require.False(t, ok)
}

func TestLoaderFilenameLookupFirst(t *testing.T) {
	stub := &stubPredictor{name: "stub", result: &Prediction{Class: "h", Mode: "stub"}}
	l, err := NewLoader(LoaderOptions{
		Open:           func(context.Context) (Predictor, error) { return stub, nil },
		FilenameLookup: true,
	})
	require.NoError(t, err)

	got, err := l.Predict(context.Background(), Input{FileName: "sign_y.jpg"})
	require.NoError(t, err)
	require.Equal(t, "y", got.Class)
	require.Zero(t, stub.calls)

	got, err = l.Predict(context.Background(), Input{FileName: "me.jpg"})
	require.NoError(t, err)
	require.Equal(t, "h", got.Class)
	require.Equal(t, 1, stub.calls)
}

func TestLoaderCachesByContent(t *testing.T) {
	stub := &stubPredictor{name: "stub", result: &Prediction{Class: "h", Mode: "stub"}}
	l, err := NewLoader(LoaderOptions{
		Open:      func(context.Context) (Predictor, error) { return stub, nil },
		CacheSize: 4,
	})
	require.NoError(t, err)

	in := Input{FileName: "me.jpg", Raw: []byte("same bytes")}
	for i := 0; i < 3; i++ {
		_, err := l.Predict(context.Background(), in)
		require.NoError(t, err)
	}
	require.Equal(t, 1, stub.calls)

	_, err = l.Predict(context.Background(), Input{FileName: "me.jpg", Raw: []byte("other")})
	require.NoError(t, err)
	require.Equal(t, 2, stub.calls)
}

func TestLoadMetadataDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_metadata.json")
	raw, err := json.Marshal(map[string]any{"image_size": 64})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	md, err := LoadMetadata(path)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 64, 64, 3}, md.InputShape)
	require.Equal(t, []int64{1, NumLabels}, md.OutputShape)
	require.Equal(t, Labels(), md.Classes)
	require.Equal(t, LayoutNHWC, md.Layout)
	require.Equal(t, "input", md.InputName)
}

func TestLoadMetadataRejectsShortClassList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"classes":["a","b"]}`), 0o600))

	_, err := LoadMetadata(path)
	require.Error(t, err)

	_, err = LoadMetadata(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoaderReportsLoadingWhileOpening(t *testing.T) {
	release := make(chan struct{})
	stub := &stubPredictor{name: "stub", result: &Prediction{Class: "h", Mode: "stub"}}
	l, err := NewLoader(LoaderOptions{
		Open: func(context.Context) (Predictor, error) {
			<-release
			return stub, nil
		},
	})
	require.NoError(t, err)

	done := make(chan Status, 1)
	go func() { done <- l.Load(context.Background()) }()

	require.Eventually(t, func() bool {
		return l.Snapshot().Status == StatusLoading
	}, time.Second, 5*time.Millisecond)

	// a caller that gives up while the model is still opening is not served
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Predict(ctx, Input{})
	require.ErrorIs(t, err, ErrModelNotLoaded)

	close(release)
	require.Equal(t, StatusReady, <-done)
	require.Equal(t, StatusReady, l.Snapshot().Status)
	require.Equal(t, "stub", l.Snapshot().Mode)
}

func TestLoaderFailedLoadIsRetried(t *testing.T) {
	opens := 0
	stub := &stubPredictor{name: "stub", result: &Prediction{Class: "h", Mode: "stub"}}
	l, err := NewLoader(LoaderOptions{
		Open: func(ctx context.Context) (Predictor, error) {
			opens++
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return stub, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, StatusFailed, l.Load(ctx))
	require.Equal(t, StatusFailed, l.Snapshot().Status)

	_, err = l.Predict(ctx, Input{})
	require.ErrorIs(t, err, ErrModelNotLoaded)

	require.Equal(t, StatusReady, l.Load(context.Background()))
	require.Equal(t, 3, opens)
}

func TestLoaderFallsBackWhenONNXFilesMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_metadata.json"), []byte(`{"image_size":224}`), 0o600))

	cases := map[string]ONNXOptions{
		"no model file": {
			ModelPath:    filepath.Join(dir, "model.onnx"),
			MetadataPath: filepath.Join(dir, "model_metadata.json"),
		},
		"no metadata": {
			ModelPath:    filepath.Join(dir, "model.onnx"),
			MetadataPath: filepath.Join(dir, "missing.json"),
		},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			l, err := NewLoader(LoaderOptions{
				Open: func(context.Context) (Predictor, error) {
					return NewONNXPredictor(opts)
				},
			})
			require.NoError(t, err)

			require.Equal(t, StatusDemo, l.Load(context.Background()))
			got, err := l.Predict(context.Background(), Input{FileName: "photo.png"})
			require.NoError(t, err)
			require.Equal(t, ModeDemo, got.Mode)
		})
	}
}

func TestLoaderCacheDoesNotShareScores(t *testing.T) {
	stub := &stubPredictor{name: "stub", result: &Prediction{
		Class:       "h",
		Mode:        "stub",
		Predictions: map[string]float32{"h": 0.9, "a": 0.1},
	}}
	l, err := NewLoader(LoaderOptions{
		Open:      func(context.Context) (Predictor, error) { return stub, nil },
		CacheSize: 4,
	})
	require.NoError(t, err)

	in := Input{FileName: "me.jpg", Raw: []byte("bytes")}
	first, err := l.Predict(context.Background(), in)
	require.NoError(t, err)
	first.Predictions["h"] = 0

	second, err := l.Predict(context.Background(), in)
	require.NoError(t, err)
	require.InDelta(t, 0.9, second.Predictions["h"], 1e-6)
	second.Predictions["a"] = 1

	third, err := l.Predict(context.Background(), in)
	require.NoError(t, err)
	require.InDelta(t, 0.1, third.Predictions["a"], 1e-6)
	require.Equal(t, 1, stub.calls)
}
