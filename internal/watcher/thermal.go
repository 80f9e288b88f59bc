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

package watcher

import (
	"sync"
	"time"
)

// thermalGovernor implements "chatter protection" (spec.md §4.6/§9
// Glossary "Final Promise"): a path emitting more than limit mutations
// within a one-minute window (the count restarts when the window
// expires) is locked out for lockout, suppressing
// further events for that path, but the suppression itself is
// remembered as dirty so a single synthetic event fires the instant
// the lockout window expires, guaranteeing the file's final state is
// eventually indexed.
type thermalGovernor struct {
	limit          int
	lockout        time.Duration
	onFinalPromise func(path string)

	mu    sync.Mutex
	state map[string]*thermalState
}

type thermalState struct {
	windowStart time.Time
	count       int
	locked      bool
	dirty       bool
}

func newThermalGovernor(limitPerMin int, lockout time.Duration, onFinalPromise func(path string)) *thermalGovernor {
	if limitPerMin <= 0 {
		limitPerMin = 5
	}
	if lockout <= 0 {
		lockout = 5 * time.Minute
	}
	return &thermalGovernor{
		limit:          limitPerMin,
		lockout:        lockout,
		onFinalPromise: onFinalPromise,
		state:          make(map[string]*thermalState),
	}
}

// allow reports whether path's event should be passed on to the
// debouncer. A false result means the path is currently in its
// lockout window; the event has been folded into that window's
// eventual Final Promise instead.
func (g *thermalGovernor) allow(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	st, ok := g.state[path]
	if !ok {
		st = &thermalState{windowStart: now}
		g.state[path] = st
	}

	if st.locked {
		st.dirty = true
		return false
	}

	if now.Sub(st.windowStart) > time.Minute {
		st.windowStart = now
		st.count = 0
	}
	st.count++

	if st.count > g.limit {
		st.locked = true
		st.dirty = true
		time.AfterFunc(g.lockout, func() { g.release(path) })
		return false
	}
	return true
}

func (g *thermalGovernor) release(path string) {
	g.mu.Lock()
	st, ok := g.state[path]
	if !ok {
		g.mu.Unlock()
		return
	}
	st.locked = false
	dirty := st.dirty
	st.dirty = false
	st.count = 0
	st.windowStart = time.Now()
	g.mu.Unlock()

	if dirty && g.onFinalPromise != nil {
		g.onFinalPromise(path)
	}
}
