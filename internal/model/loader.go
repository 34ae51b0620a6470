package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusDemo    Status = "demo"
	// StatusFailed means the last load was abandoned because its context
	// ended; the next Load tries again.
	StatusFailed Status = "failed"
)

var ErrModelNotLoaded = errors.New("model not loaded")

// OpenFunc builds the real predictor. It is swapped out in tests.
type OpenFunc func(ctx context.Context) (Predictor, error)

type LoaderOptions struct {
	Open           OpenFunc
	FilenameLookup bool
	CacheSize      int
	Seed           uint64
}

// Loader owns the loaded model, its status and the name of the file being
// processed. The first Load that fails to open a model puts the loader in
// demo mode for the rest of its life.
type Loader struct {
	mu       sync.Mutex
	open     OpenFunc
	model    Predictor
	status   Status
	loadDone chan struct{}
	fileName string
	classes  []string

	demo     *DemoPredictor
	filename *FilenamePredictor
	cache    *lru.Cache[string, Prediction]
}

type Snapshot struct {
	Status   Status   `json:"status"`
	Mode     string   `json:"mode"`
	FileName string   `json:"fileName"`
	Classes  []string `json:"classes"`
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	l := &Loader{
		open:    opts.Open,
		status:  StatusIdle,
		classes: Labels(),
		demo:    NewDemoPredictor(opts.Seed),
	}
	if opts.FilenameLookup {
		l.filename = NewFilenamePredictor()
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, Prediction](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create prediction cache: %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

// Load opens the model once. A missing or broken model is not an error: the
// loader drops to demo mode and keeps serving. The lock is not held while the
// model opens, so Snapshot reports loading in the meantime and concurrent
// callers wait for the first one to finish.
func (l *Loader) Load(ctx context.Context) Status {
	l.mu.Lock()
	for l.status == StatusLoading {
		done := l.loadDone
		l.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return StatusLoading
		}
		l.mu.Lock()
	}

	if l.status == StatusReady || l.status == StatusDemo {
		defer l.mu.Unlock()
		return l.status
	}

	if l.open == nil {
		defer l.mu.Unlock()
		log.Println("No model configured - running in demo mode")
		l.model = l.demo
		l.status = StatusDemo
		return l.status
	}

	open := l.open
	done := make(chan struct{})
	l.loadDone = done
	l.status = StatusLoading
	l.mu.Unlock()

	p, err := open(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	defer close(done)

	switch {
	case err == nil:
		if op, ok := p.(*ONNXPredictor); ok {
			l.classes = op.Metadata.Classes
			log.Printf("Model loaded, input shape: %v", op.Metadata.InputShape)
		}
		l.model = p
		l.status = StatusReady
	case ctx.Err() != nil:
		log.Printf("Model load abandoned: %v", err)
		l.status = StatusFailed
	default:
		log.Printf("Model not available (%v) - running in demo mode", err)
		l.model = l.demo
		l.status = StatusDemo
	}
	return l.status
}

func (l *Loader) Predict(ctx context.Context, in Input) (*Prediction, error) {
	if status := l.Load(ctx); status != StatusReady && status != StatusDemo {
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, status)
	}

	l.mu.Lock()
	l.fileName = in.FileName
	predictor := l.predictorLocked()
	l.mu.Unlock()

	key := cacheKey(in)
	if key != "" && l.cache != nil {
		if cached, ok := l.cache.Get(key); ok {
			return clonePrediction(&cached), nil
		}
	}

	result, err := predictor.Predict(ctx, in)
	if err != nil {
		return nil, err
	}

	if key != "" && l.cache != nil {
		l.cache.Add(key, *clonePrediction(result))
	}
	return result, nil
}

// clonePrediction copies p including its score map so cached entries are
// never shared with callers.
func clonePrediction(p *Prediction) *Prediction {
	out := *p
	if p.Predictions != nil {
		out.Predictions = make(map[string]float32, len(p.Predictions))
		for k, v := range p.Predictions {
			out.Predictions[k] = v
		}
	}
	return &out
}

func (l *Loader) predictorLocked() Predictor {
	if l.filename == nil {
		return l.model
	}
	return Chain{l.filename, l.model}
}

// Metadata returns the model metadata when a real model is loaded.
func (l *Loader) Metadata() (Metadata, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if op, ok := l.model.(*ONNXPredictor); ok {
		return op.Metadata, true
	}
	return Metadata{}, false
}

func (l *Loader) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	mode := ""
	if l.model != nil {
		mode = l.model.Name()
	}
	classes := make([]string, len(l.classes))
	copy(classes, l.classes)
	return Snapshot{
		Status:   l.status,
		Mode:     mode,
		FileName: l.fileName,
		Classes:  classes,
	}
}

func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model == nil || l.model == Predictor(l.demo) {
		return nil
	}
	err := l.model.Close()
	l.model = nil
	l.status = StatusIdle
	return err
}

func cacheKey(in Input) string {
	if len(in.Raw) == 0 {
		return ""
	}
	sum := sha256.Sum256(in.Raw)
	return hex.EncodeToString(sum[:]) + "|" + in.FileName
}
