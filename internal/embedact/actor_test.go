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

package embedact_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryceygordon/MagicFS/internal/embedact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dims       int
	calls      atomic.Int32
	failNext   atomic.Bool
	closed     atomic.Bool
	embedDelay time.Duration
}

func (f *fakeEmbedder) Embed(texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.embedDelay > 0 {
		time.Sleep(f.embedDelay)
	}
	if f.failNext.CompareAndSwap(true, false) {
		return nil, fmt.Errorf("synthetic failure")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Close() error    { f.closed.Store(true); return nil }

func TestActor_EmbedRoundTrip(t *testing.T) {
	fe := &fakeEmbedder{dims: 1}
	a := embedact.New(fe, 4)
	defer a.Stop()

	vecs, err := a.Embed(context.Background(), []string{"hi", "hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(5), vecs[1][0])
}

func TestActor_PropagatesEmbedderError(t *testing.T) {
	fe := &fakeEmbedder{dims: 1}
	fe.failNext.Store(true)
	a := embedact.New(fe, 4)
	defer a.Stop()

	_, err := a.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestActor_CancelAlwaysSignals(t *testing.T) {
	fe := &fakeEmbedder{dims: 1, embedDelay: 100 * time.Millisecond}
	a := embedact.New(fe, 1)
	defer a.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Embed(ctx, []string{"x"})
	assert.Error(t, err)
}

func TestActor_SerializesConcurrentCallers(t *testing.T) {
	fe := &fakeEmbedder{dims: 1}
	a := embedact.New(fe, 16)
	defer a.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Embed(context.Background(), []string{"payload"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, fe.calls.Load())
}

func TestActor_StopClosesEmbedder(t *testing.T) {
	fe := &fakeEmbedder{dims: 1}
	a := embedact.New(fe, 1)
	require.NoError(t, a.Stop())
	assert.True(t, fe.closed.Load())
}
