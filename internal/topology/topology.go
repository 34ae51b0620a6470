// Package topology rewrites a Keras 3 model.json into the layers format that
// TensorFlow.js can load. Only the parts that differ between the two schemas
// are touched; everything else round-trips untouched.
package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const kerasTensorClass = "__keras_tensor__"

var ErrNoLayers = errors.New("model has no modelTopology.model_config.config.layers")

// Report summarises one patch run.
type Report struct {
	Layers       int          `json:"layers"`
	Modified     int          `json:"modified"`
	InputLayers  int          `json:"inputLayers"`
	DTypes       int          `json:"dtypes"`
	InboundNodes int          `json:"inboundNodes"`
	Verification Verification `json:"verification"`
}

// Verification is the post-patch spot check printed by the converter.
type Verification struct {
	FirstLayerClass    string `json:"firstLayerClass"`
	HasBatchInputShape bool   `json:"hasBatchInputShape"`
	SecondLayerInbound string `json:"secondLayerInbound"`
}

// Decode parses a model document keeping numbers as json.Number so weights
// manifests and shapes are written back exactly as read.
func Decode(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode model json: %w", err)
	}
	return doc, nil
}

// Encode writes doc minified, or indented with two spaces when pretty is set.
func Encode(w io.Writer, doc map[string]any, pretty bool) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode model json: %w", err)
	}
	_, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}

// Layers returns the layer list of a layers-model document.
func Layers(doc map[string]any) ([]any, error) {
	topology, ok := doc["modelTopology"].(map[string]any)
	if !ok {
		return nil, ErrNoLayers
	}
	modelConfig, ok := topology["model_config"].(map[string]any)
	if !ok {
		return nil, ErrNoLayers
	}
	config, ok := modelConfig["config"].(map[string]any)
	if !ok {
		return nil, ErrNoLayers
	}
	layers, ok := config["layers"].([]any)
	if !ok {
		return nil, ErrNoLayers
	}
	return layers, nil
}

// Patch rewrites doc in place. Running it twice is a no-op the second time.
func Patch(doc map[string]any) (*Report, error) {
	layers, err := Layers(doc)
	if err != nil {
		return nil, err
	}

	report := &Report{Layers: len(layers)}
	for _, raw := range layers {
		layer, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		modified := false
		if fixInputLayer(layer) {
			report.InputLayers++
			modified = true
		}
		if fixDType(layer) {
			report.DTypes++
			modified = true
		}
		if fixInboundNodes(layer) {
			report.InboundNodes++
			modified = true
		}
		if modified {
			report.Modified++
		}
	}

	report.Verification, err = Verify(doc)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Verify reports on the first two layers, which are the ones a browser load trips over.
func Verify(doc map[string]any) (Verification, error) {
	layers, err := Layers(doc)
	if err != nil {
		return Verification{}, err
	}
	var v Verification
	if len(layers) > 0 {
		if first, ok := layers[0].(map[string]any); ok {
			v.FirstLayerClass, _ = first["class_name"].(string)
			if cfg, ok := first["config"].(map[string]any); ok {
				_, v.HasBatchInputShape = cfg["batch_input_shape"]
			}
		}
	}
	if len(layers) > 1 {
		if second, ok := layers[1].(map[string]any); ok {
			raw, err := json.Marshal(second["inbound_nodes"])
			if err != nil {
				return Verification{}, fmt.Errorf("encode inbound nodes: %w", err)
			}
			preview := string(raw)
			if len(preview) > 100 {
				preview = preview[:100]
			}
			v.SecondLayerInbound = preview
		}
	}
	return v, nil
}

func fixInputLayer(layer map[string]any) bool {
	if layer["class_name"] != "InputLayer" {
		return false
	}
	cfg, ok := layer["config"].(map[string]any)
	if !ok {
		return false
	}
	shape, has := cfg["batch_shape"]
	if !has || shape == nil {
		return false
	}
	if _, already := cfg["batch_input_shape"]; already {
		return false
	}
	cfg["batch_input_shape"] = shape
	delete(cfg, "batch_shape")
	return true
}

// fixDType flattens a Keras 3 DTypePolicy object to its name.
func fixDType(layer map[string]any) bool {
	cfg, ok := layer["config"].(map[string]any)
	if !ok {
		return false
	}
	policy, ok := cfg["dtype"].(map[string]any)
	if !ok {
		return false
	}
	name := "float32"
	if pc, ok := policy["config"].(map[string]any); ok {
		if n, ok := pc["name"].(string); ok && n != "" {
			name = n
		}
	}
	cfg["dtype"] = name
	return true
}

func fixInboundNodes(layer map[string]any) bool {
	nodes, ok := layer["inbound_nodes"].([]any)
	if !ok || len(nodes) == 0 {
		return false
	}
	changed := false
	for i, node := range nodes {
		converted, ok := convertInboundNode(node)
		if ok {
			nodes[i] = converted
			changed = true
		}
	}
	return changed
}

// convertInboundNode turns {"args": ..., "kwargs": ...} into the nested array
// form [[[name, nodeIndex, tensorIndex, {}], ...]]. Nodes already in array form
// are left alone.
func convertInboundNode(node any) (any, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		return node, false
	}
	args, ok := obj["args"]
	if !ok {
		return node, false
	}

	if ref, ok := tensorRef(args); ok {
		return []any{[]any{ref}}, true
	}

	list, ok := args.([]any)
	if !ok || len(list) == 0 {
		return node, false
	}

	// merge layers (Add, Concatenate) receive one list of tensors
	if inner, ok := list[0].([]any); ok && len(list) == 1 {
		converted := make([]any, len(inner))
		for i, t := range inner {
			if ref, ok := tensorRef(t); ok {
				converted[i] = ref
			} else {
				converted[i] = t
			}
		}
		return []any{converted}, true
	}

	if ref, ok := tensorRef(list[0]); ok {
		return []any{[]any{ref}}, true
	}
	return node, false
}

// tensorRef reads keras_history off a serialized KerasTensor.
func tensorRef(v any) ([]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok || obj["class_name"] != kerasTensorClass {
		return nil, false
	}
	cfg, ok := obj["config"].(map[string]any)
	if !ok {
		return nil, false
	}
	history, ok := cfg["keras_history"].([]any)
	if !ok || len(history) < 3 {
		return nil, false
	}
	return []any{history[0], history[1], history[2], map[string]any{}}, true
}
