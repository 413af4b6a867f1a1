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
	"regexp"
	"testing"

	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionsFile = "upload_sessions.json"

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	nop := zerolog.Nop()
	store := storage.New(t.TempDir(), []string{sessionsFile}, &nop)
	return NewSessions(store, sessionsFile, &nop)
}

func TestSessionIDFormat(t *testing.T) {
	id := SessionID("movie.mkv", 1700000000000)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{12}$`), id)
	// Stable for identical inputs, distinct across names.
	assert.Equal(t, id, SessionID("movie.mkv", 1700000000000))
	assert.NotEqual(t, id, SessionID("other.mkv", 1700000000000))
}

func TestCreateAndGet(t *testing.T) {
	s := newTestSessions(t)
	sess, err := s.Create("movie.mkv", 1<<20, 4, "folder-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, storage.SessionUploading, sess.Status)
	assert.Empty(t, sess.ReceivedChunks)

	got, ok := s.Get(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, "movie.mkv", got.Filename)
	assert.Equal(t, 4, got.TotalChunks)
	assert.Equal(t, "folder-1", got.FolderID)
}

func TestMarkChunkReceivedIdempotentSorted(t *testing.T) {
	s := newTestSessions(t)
	sess, err := s.Create("f.bin", 100, 5, "", "")
	require.NoError(t, err)

	for _, idx := range []int{3, 0, 3, 1, 0} {
		require.NoError(t, s.MarkChunkReceived(sess.SessionID, idx))
	}
	got, ok := s.Get(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 3}, got.ReceivedChunks)
}

func TestUpdateMissingSession(t *testing.T) {
	s := newTestSessions(t)
	err := s.Update("000000000000", func(*storage.UploadSession) {})
	require.Error(t, err)
	var nf errtypes.IsNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestDelete(t *testing.T) {
	s := newTestSessions(t)
	sess, err := s.Create("f.bin", 100, 1, "", "")
	require.NoError(t, err)
	require.NoError(t, s.Delete(sess.SessionID))
	_, ok := s.Get(sess.SessionID)
	assert.False(t, ok)
	// Deleting again is fine.
	assert.NoError(t, s.Delete(sess.SessionID))
}
