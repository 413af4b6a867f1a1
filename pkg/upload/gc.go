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
	"time"

	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/rs/zerolog"
)

// GC periodically removes upload sessions that were started but never
// completed, and prunes registry entries whose session record disappeared.
type GC struct {
	sessions *Sessions
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	log      *zerolog.Logger
}

// NewGC creates the collector.
func NewGC(sessions *Sessions, registry *Registry, ttl, interval time.Duration, log *zerolog.Logger) *GC {
	return &GC{sessions: sessions, registry: registry, ttl: ttl, interval: interval, log: log}
}

// Run sweeps on every interval tick until the context is cancelled.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one collection pass against the given wall clock.
func (g *GC) Sweep(now time.Time) {
	sessions := g.sessions.All()
	for id, sess := range sessions {
		if sess.Status != storage.SessionUploading {
			continue
		}
		created, err := time.Parse(time.RFC3339, sess.CreatedAt)
		if err != nil {
			g.log.Warn().Str("session", id).Str("created_at", sess.CreatedAt).
				Msg("gc: unreadable created_at, expiring session")
		} else if now.Sub(created) <= g.ttl {
			continue
		}
		if e, ok := g.registry.Remove(id); ok {
			e.Cancel()
		}
		if err := g.sessions.Delete(id); err != nil {
			g.log.Warn().Err(err).Str("session", id).Msg("gc: error deleting session")
			continue
		}
		g.log.Info().Str("session", id).Str("file", sess.Filename).Msg("gc: expired stale session")
	}

	// Entries whose session record is gone cannot be completed or resumed.
	for _, id := range g.registry.IDs() {
		if _, ok := sessions[id]; ok {
			continue
		}
		if e, ok := g.registry.Remove(id); ok {
			e.Cancel()
			g.log.Info().Str("session", id).Msg("gc: pruned orphan sender entry")
		}
	}
}
