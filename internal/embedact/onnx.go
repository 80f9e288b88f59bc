// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedact

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder wraps a single onnxruntime_go session exposing a
// sentence-embedding model. It is never called concurrently itself —
// Actor is the only caller — but guards its lifecycle with a mutex
// since Close can race a final in-flight Embed during shutdown.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	modelPath  string
	dimensions int
	tokenize   func(text string) ([]int64, error)
	closed     bool
}

// ONNXConfig describes where to find the model and its tokenizer hook.
// Tokenization is deliberately pluggable: the model's vocabulary is an
// artifact shipped alongside the .onnx file, not something this
// package hard-codes.
type ONNXConfig struct {
	ModelPath      string
	LibraryPath    string
	Dimensions     int
	MaxSeqLen      int
	Tokenize       func(text string) ([]int64, error)
}

// NewONNXEmbedder initializes the ONNX Runtime environment (once per
// process) and loads the model at cfg.ModelPath.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	inputShape := ort.NewShape(1, int64(cfg.MaxSeqLen))
	outputShape := ort.NewShape(1, int64(cfg.Dimensions))

	inputTensor, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input_ids"}, []string{"sentence_embedding"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}, nil)
	if err != nil {
		return nil, fmt.Errorf("load onnx model %s: %w", cfg.ModelPath, err)
	}

	return &ONNXEmbedder{
		session:    session,
		modelPath:  cfg.ModelPath,
		dimensions: cfg.Dimensions,
		tokenize:   cfg.Tokenize,
	}, nil
}

// Embed runs one inference pass per text. The model's own batch axis
// is left at 1: the actor already serializes calls one request at a
// time, and a fixed-shape session keeps the wrapper simple.
func (e *ONNXEmbedder) Embed(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("embedder closed")
	}

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.embedOne(text)
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *ONNXEmbedder) embedOne(text string) ([]float32, error) {
	ids, err := e.tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	inputs := e.session.GetInputs()
	if len(inputs) == 0 {
		return nil, fmt.Errorf("session has no inputs")
	}
	tensor, ok := inputs[0].(*ort.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("unexpected input tensor type")
	}
	data := tensor.GetData()
	for i := range data {
		if i < len(ids) {
			data[i] = ids[i]
		} else {
			data[i] = 0
		}
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	outputs := e.session.GetOutputs()
	if len(outputs) == 0 {
		return nil, fmt.Errorf("session has no outputs")
	}
	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	raw := outTensor.GetData()
	vec := make([]float32, len(raw))
	copy(vec, raw)
	return vec, nil
}

// Dimensions returns the model's output width.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session. Safe to call once; subsequent calls are
// a no-op.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		e.session.Destroy()
	}
	return nil
}
