// Copyright 2018-2024 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package upload

import (
	"context"
	"sync"
)

// Chunk is one client-posted piece of the file, identified by its 0-based
// index.
type Chunk struct {
	Index int
	Data  []byte
}

// chunkQueueCap bounds the per-session chunk queue.
const chunkQueueCap = 64

// Entry is the in-memory half of a live upload session: the chunk queue
// feeding the sender, the single-shot result channel and the cancel handle.
// A session without a live entry is not resumable.
type Entry struct {
	Chunks chan Chunk
	Result <-chan Result
	Cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewEntry builds the channels for one sender. The caller passes Chunks and
// the write side of Result to the sender goroutine.
func NewEntry(cancel context.CancelFunc) (*Entry, chan<- Result) {
	result := make(chan Result, 1)
	return &Entry{
		Chunks: make(chan Chunk, chunkQueueCap),
		Result: result,
		Cancel: cancel,
	}, result
}

// TrySend pushes a chunk without blocking. It reports false when the queue
// is full or already closed.
func (e *Entry) TrySend(c Chunk) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.Chunks <- c:
		return true
	default:
		return false
	}
}

// CloseChunks signals EOF to the sender. Safe to call more than once.
func (e *Entry) CloseChunks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.Chunks)
	}
}

// Registry maps session ids to their live sender entries. All accesses are
// short critical sections behind one mutex.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add registers the entry for a session.
func (r *Registry) Add(id string, e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = e
}

// Get returns the live entry for a session.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove unregisters and returns the entry, used by complete and cancel.
func (r *Registry) Remove(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// IDs returns the session ids with a live entry.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
