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
	"testing"
	"time"

	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresStaleUploadingSessions(t *testing.T) {
	s := newTestSessions(t)
	reg := NewRegistry()
	nop := zerolog.Nop()
	gc := NewGC(s, reg, time.Hour, time.Minute, &nop)

	stale, err := s.Create("old.bin", 1, 1, "", "")
	require.NoError(t, err)
	fresh, err := s.Create("new.bin", 1, 1, "", "")
	require.NoError(t, err)
	sending, err := s.Create("busy.bin", 1, 1, "", "")
	require.NoError(t, err)
	require.NoError(t, s.Update(sending.SessionID, func(u *storage.UploadSession) {
		u.Status = storage.SessionSending
		u.CreatedAt = time.Now().UTC().Add(-3 * time.Hour).Format(time.RFC3339)
	}))
	require.NoError(t, s.Update(stale.SessionID, func(u *storage.UploadSession) {
		u.CreatedAt = time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	}))

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	entry, _ := NewEntry(cancel)
	reg.Add(stale.SessionID, entry)

	gc.Sweep(time.Now())

	_, ok := s.Get(stale.SessionID)
	assert.False(t, ok, "stale uploading session must be removed")
	_, ok = s.Get(fresh.SessionID)
	assert.True(t, ok, "fresh session must survive")
	_, ok = s.Get(sending.SessionID)
	assert.True(t, ok, "sending sessions are never expired")
	_, ok = reg.Get(stale.SessionID)
	assert.False(t, ok, "entry of the expired session must be dropped")
}

func TestSweepPrunesOrphanEntries(t *testing.T) {
	s := newTestSessions(t)
	reg := NewRegistry()
	nop := zerolog.Nop()
	gc := NewGC(s, reg, time.Hour, time.Minute, &nop)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	entry, _ := NewEntry(cancel)
	reg.Add("deadbeef0000", entry)

	gc.Sweep(time.Now())
	_, ok := reg.Get("deadbeef0000")
	assert.False(t, ok)
}

func TestEntryTrySendAndClose(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	entry, _ := NewEntry(cancel)

	assert.True(t, entry.TrySend(Chunk{Index: 0, Data: []byte("x")}))

	for i := 0; i < chunkQueueCap; i++ {
		entry.TrySend(Chunk{Index: i + 1})
	}
	assert.False(t, entry.TrySend(Chunk{Index: 99}), "full queue rejects without blocking")

	entry.CloseChunks()
	entry.CloseChunks() // idempotent
	assert.False(t, entry.TrySend(Chunk{Index: 100}), "closed queue rejects")
}
