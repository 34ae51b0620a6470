package model

import (
	"context"
	"errors"
	"strings"
)

// Chain asks each predictor in turn. A filename miss moves on to the next one;
// any other error stops the chain.
type Chain []Predictor

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, p := range c {
		names = append(names, p.Name())
	}
	return strings.Join(names, "+")
}

func (c Chain) Predict(ctx context.Context, in Input) (*Prediction, error) {
	for _, p := range c {
		result, err := p.Predict(ctx, in)
		if errors.Is(err, ErrNoFilenameMatch) {
			continue
		}
		return result, err
	}
	return nil, ErrNoFilenameMatch
}

func (c Chain) Close() error {
	var errs []error
	for _, p := range c {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
