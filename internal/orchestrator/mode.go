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

package orchestrator

import (
	"sync"

	"github.com/bryceygordon/MagicFS/internal/logger"
)

// SteadyHandover is the slice of *repository.Repository the mode
// controller needs to perform the Bulk->Steady critical section of
// spec.md §4.3/§4.8.
type SteadyHandover interface {
	HandoverToSteady() error
}

// modeTracker fires the monotonic, once-only Bulk->Steady transition of
// spec.md §4.3 the moment the event queue drains with zero jobs in
// flight. A failed handover is not latched as done, so the next drain
// retries it; a successful one never fires again for the life of the
// process.
type modeTracker struct {
	mu   sync.Mutex
	done bool
	repo SteadyHandover
}

func newModeTracker(repo SteadyHandover) *modeTracker {
	return &modeTracker{repo: repo}
}

// maybeHandover is called by the loop every time the queue empties and
// no job is in flight.
func (m *modeTracker) maybeHandover() {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.repo.HandoverToSteady(); err != nil {
		logger.Errorf("orchestrator: bulk->steady handover failed, will retry on next drain: %v", err)
		return
	}

	m.mu.Lock()
	m.done = true
	m.mu.Unlock()
	logger.Infof("orchestrator: transitioned Bulk -> Steady")
}

func (m *modeTracker) isSteady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}
