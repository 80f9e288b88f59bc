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

// Package embedact implements the Embedding Actor of spec.md §4.9: a
// single goroutine owning the one ONNX Runtime session, since the
// runtime's inference session is not safe for concurrent calls from
// multiple goroutines. Every other component reaches the model only
// through this package's channel-based request/reply API.
package embedact

import (
	"context"
	"fmt"

	"github.com/bryceygordon/MagicFS/internal/logger"
)

// Embedder produces embedding vectors for text. ONNXEmbedder implements
// this over a native session, and Actor wraps one Embedder behind its
// single goroutine; tests substitute a deterministic fake.
type Embedder interface {
	Embed(texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

type request struct {
	ctx   context.Context
	texts []string
	reply chan reply
}

type reply struct {
	vectors [][]float32
	err     error
}

// Actor serializes every embedding call into a single goroutine, per
// spec.md §4.9's "single-owner" requirement. The zero value is not
// usable; construct with New.
type Actor struct {
	embedder Embedder
	requests chan request
	done     chan struct{}
}

// New starts the actor goroutine around embedder and returns
// immediately; embedder is owned exclusively by the actor goroutine
// from this point on and must not be called from anywhere else.
func New(embedder Embedder, queueDepth int) *Actor {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	a := &Actor{
		embedder: embedder,
		requests: make(chan request, queueDepth),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	defer close(a.done)
	for req := range a.requests {
		var rep reply
		if err := req.ctx.Err(); err != nil {
			rep.err = fmt.Errorf("embed request abandoned: %w", err)
		} else {
			vectors, err := a.embedder.Embed(req.texts)
			rep = reply{vectors: vectors, err: err}
		}
		// Always signal, even on a canceled or failed request, so a
		// caller blocked on the reply channel never leaks a goroutine
		// (spec.md §4.9's "always-signaled reply" requirement).
		req.reply <- rep
	}
}

// Embed submits texts for embedding and blocks until the actor replies
// or ctx is canceled. The native session is touched only by the actor
// goroutine; this method just hands off and waits.
func (a *Actor) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := request{ctx: ctx, texts: texts, reply: make(chan reply, 1)}

	select {
	case a.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, fmt.Errorf("embedding actor stopped")
	}

	select {
	case rep := <-req.reply:
		if rep.err != nil {
			return nil, fmt.Errorf("embed: %w", rep.err)
		}
		return rep.vectors, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dimensions returns the embedder's output width, used by
// internal/repository to size the chunks_vec virtual table.
func (a *Actor) Dimensions() int { return a.embedder.Dimensions() }

// Stop drains pending requests and shuts down the actor goroutine,
// closing the underlying native session.
func (a *Actor) Stop() error {
	close(a.requests)
	<-a.done
	if err := a.embedder.Close(); err != nil {
		logger.Warnf("embedding actor: close native session: %v", err)
		return err
	}
	return nil
}
