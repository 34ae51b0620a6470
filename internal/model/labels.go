package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrLabelIndex = errors.New("label index out of range")

// NumLabels is the size of the sign alphabet: ten digits and 26 letters.
const NumLabels = 36

var labels = [NumLabels]string{
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
}

// Labels returns a copy of the label list in model output order.
func Labels() []string {
	out := make([]string, NumLabels)
	copy(out, labels[:])
	return out
}

func Label(i int) (string, error) {
	if i < 0 || i >= NumLabels {
		return "", fmt.Errorf("%w: %d", ErrLabelIndex, i)
	}
	return labels[i], nil
}

// IndexOf returns the output index of label, or -1.
func IndexOf(label string) int {
	l := strings.ToLower(strings.TrimSpace(label))
	for i, v := range labels {
		if v == l {
			return i
		}
	}
	return -1
}

// ValidateLabels checks a class list read from model metadata.
func ValidateLabels(classes []string) error {
	if len(classes) != NumLabels {
		return fmt.Errorf("expected %d classes, got %d", NumLabels, len(classes))
	}
	seen := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate class %q", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
