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

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	foldersFile  = "folders.json"
	historyFile  = "file_history.json"
	sessionsFile = "upload_sessions.json"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	nop := zerolog.Nop()
	return New(t.TempDir(), []string{foldersFile, historyFile, sessionsFile}, &nop)
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.LoadFolders(foldersFile))
	assert.Empty(t, s.LoadHistory(historyFile))
	assert.Empty(t, s.LoadSessions(sessionsFile))
}

func TestLoadCorruptReturnsEmpty(t *testing.T) {
	nop := zerolog.Nop()
	dir := t.TempDir()
	s := New(dir, []string{historyFile}, &nop)
	require.NoError(t, os.WriteFile(filepath.Join(dir, historyFile), []byte("{nope"), 0644))
	assert.Empty(t, s.LoadHistory(historyFile))
}

func TestFoldersRoundTrip(t *testing.T) {
	s := newTestStore(t)
	folders := []Folder{
		{ID: 2, Name: "beta", DiscordCategoryID: 22, CreatedAt: "02/01/2024 10:00"},
		{ID: 1, Name: "alpha", DiscordCategoryID: 11, CreatedAt: "01/01/2024 10:00"},
	}
	require.NoError(t, s.SaveFolders(foldersFile, folders))
	assert.Equal(t, folders, s.LoadFolders(foldersFile))
}

func TestUpdateHistoryPrepends(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []int64{1, 2, 3} {
		rec := FileRecord{ID: id, Filename: "f", Status: "sent"}
		require.NoError(t, s.UpdateHistory(historyFile, func(h []FileRecord) []FileRecord {
			return append([]FileRecord{rec}, h...)
		}))
	}
	h := s.LoadHistory(historyFile)
	require.Len(t, h, 3)
	assert.Equal(t, int64(3), h[0].ID)
	assert.Equal(t, int64(1), h[2].ID)
}

func TestSessionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateSessions(sessionsFile, func(m map[string]UploadSession) {
		m["abc123def456"] = UploadSession{
			SessionID:      "abc123def456",
			Filename:       "movie.mkv",
			FileSize:       1 << 20,
			TotalChunks:    4,
			ReceivedChunks: []int{0, 2},
			Status:         SessionUploading,
			CreatedAt:      NowRFC3339(),
		}
	}))
	got := s.LoadSessions(sessionsFile)
	require.Contains(t, got, "abc123def456")
	assert.Equal(t, []int{0, 2}, got["abc123def456"].ReceivedChunks)
}

func TestPartsListLegacyMessageIDs(t *testing.T) {
	r := FileRecord{
		ChannelID:  "777",
		MessageIDs: []int64{10, 20, 30},
	}
	parts := r.PartsList()
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, i+1, p.Part)
		assert.Equal(t, PlatformDiscord, p.Platform)
		assert.Equal(t, "777", p.ChannelID)
	}
	assert.Equal(t, int64(20), parts[1].MessageID)
}

func TestPartsListPrefersPartsInfo(t *testing.T) {
	r := FileRecord{
		PartsInfo: []PartInfo{
			{Part: 1, Platform: PlatformDiscord, MessageID: 1, ChannelID: "c"},
			{Part: 2, Platform: PlatformTelegram, MessageID: 2, FileID: "tg-file"},
		},
		MessageIDs: []int64{99},
	}
	parts := r.PartsList()
	require.Len(t, parts, 2)
	assert.Equal(t, PlatformTelegram, parts[1].Platform)
	assert.Equal(t, "tg-file", parts[1].FileID)
}

func TestFolderIDString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"1700000000000"`, "1700000000000"},
		{`1700000000000`, "1700000000000"},
		{`null`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		r := FileRecord{}
		if tt.raw != "" {
			r.FolderID = json.RawMessage(tt.raw)
		}
		assert.Equal(t, tt.want, r.FolderIDString(), "raw %q", tt.raw)
	}
}
