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

// Package upload implements the chunked upload pipeline: persisted
// sessions, the in-memory registry of running senders, the streaming
// sender itself and the garbage collector for stale sessions.
package upload

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/rs/zerolog"
)

// Sessions manages the persisted upload session records.
type Sessions struct {
	store *storage.Store
	file  string
	log   *zerolog.Logger
}

// NewSessions creates a session manager over the given store document.
func NewSessions(store *storage.Store, file string, log *zerolog.Logger) *Sessions {
	return &Sessions{store: store, file: file, log: log}
}

// SessionID derives the id for a new session: the first 12 hex digits of
// MD5(filename || created-ms).
func SessionID(filename string, createdMS int64) string {
	sum := md5.Sum([]byte(filename + strconv.FormatInt(createdMS, 10)))
	return hex.EncodeToString(sum[:])[:12]
}

// Create writes a fresh session in status uploading and returns it.
func (s *Sessions) Create(filename string, fileSize int64, totalChunks int, folderID, message string) (storage.UploadSession, error) {
	sess := storage.UploadSession{
		SessionID:      SessionID(filename, storage.TimestampMS()),
		Filename:       filename,
		FileSize:       fileSize,
		TotalChunks:    totalChunks,
		ReceivedChunks: []int{},
		FolderID:       folderID,
		Message:        message,
		Status:         storage.SessionUploading,
		CreatedAt:      storage.NowRFC3339(),
	}
	err := s.store.UpdateSessions(s.file, func(m map[string]storage.UploadSession) {
		m[sess.SessionID] = sess
	})
	if err != nil {
		return storage.UploadSession{}, err
	}
	s.log.Info().Str("session", sess.SessionID).Str("file", filename).
		Int("chunks", totalChunks).Msg("upload: session created")
	return sess, nil
}

// Get returns the session with the given id.
func (s *Sessions) Get(id string) (storage.UploadSession, bool) {
	sess, ok := s.store.LoadSessions(s.file)[id]
	return sess, ok
}

// All returns every persisted session.
func (s *Sessions) All() map[string]storage.UploadSession {
	return s.store.LoadSessions(s.file)
}

// Update applies fn to the session with the given id and persists the
// result. A missing session is a not found error.
func (s *Sessions) Update(id string, fn func(*storage.UploadSession)) error {
	var missing bool
	err := s.store.UpdateSessions(s.file, func(m map[string]storage.UploadSession) {
		sess, ok := m[id]
		if !ok {
			missing = true
			return
		}
		fn(&sess)
		m[id] = sess
	})
	if err != nil {
		return err
	}
	if missing {
		return errtypes.NotFound("session " + id)
	}
	return nil
}

// MarkChunkReceived records a received chunk index. Repeated posts of the
// same index are idempotent and the set stays sorted.
func (s *Sessions) MarkChunkReceived(id string, idx int) error {
	return s.Update(id, func(sess *storage.UploadSession) {
		for _, got := range sess.ReceivedChunks {
			if got == idx {
				return
			}
		}
		sess.ReceivedChunks = append(sess.ReceivedChunks, idx)
		sort.Ints(sess.ReceivedChunks)
	})
}

// Delete removes the session. Deleting a missing session is a no-op.
func (s *Sessions) Delete(id string) error {
	return s.store.UpdateSessions(s.file, func(m map[string]storage.UploadSession) {
		delete(m, id)
	})
}
