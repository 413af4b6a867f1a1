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

// Package storage persists folders, file history and upload sessions as
// three json documents in the base directory. Reads never fail: a missing
// or corrupt document degrades to the empty collection with a warning.
// Writes go through renameio so concurrent savers cannot tear a document,
// and a per-document mutex serializes read-modify-write cycles inside the
// process.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Store gives access to the three json documents below the base dir.
type Store struct {
	baseDir string
	log     *zerolog.Logger

	mu map[string]*sync.Mutex // one lock per document filename
}

// New creates a store rooted at baseDir. The document filenames are fixed
// at construction so that each gets its own lock.
func New(baseDir string, files []string, log *zerolog.Logger) *Store {
	mu := make(map[string]*sync.Mutex, len(files))
	for _, f := range files {
		mu[f] = &sync.Mutex{}
	}
	return &Store{baseDir: baseDir, log: log, mu: mu}
}

func (s *Store) path(file string) string {
	return filepath.Join(s.baseDir, file)
}

func (s *Store) lock(file string) *sync.Mutex {
	if m, ok := s.mu[file]; ok {
		return m
	}
	// Unregistered document, should not happen. Fall back to a throwaway
	// lock rather than panicking in a persistence path.
	return &sync.Mutex{}
}

func (s *Store) load(file string, out any) {
	data, err := os.ReadFile(s.path(file))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("file", file).Msg("storage: error reading document")
		}
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn().Err(err).Str("file", file).Msg("storage: error parsing document")
	}
}

func (s *Store) save(file string, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return errors.Wrap(err, "storage: error encoding "+file)
	}
	if err := renameio.WriteFile(s.path(file), data, 0644); err != nil {
		return errors.Wrap(err, "storage: error writing "+file)
	}
	return nil
}

// LoadFolders returns all folders, most recent first.
func (s *Store) LoadFolders(file string) []Folder {
	folders := []Folder{}
	s.load(file, &folders)
	return folders
}

// SaveFolders persists the folder list.
func (s *Store) SaveFolders(file string, folders []Folder) error {
	return s.save(file, folders)
}

// UpdateFolders runs fn on the current folder list under the document lock
// and persists the result.
func (s *Store) UpdateFolders(file string, fn func([]Folder) []Folder) error {
	m := s.lock(file)
	m.Lock()
	defer m.Unlock()
	return s.save(file, fn(s.LoadFolders(file)))
}

// LoadHistory returns all file records, most recent first.
func (s *Store) LoadHistory(file string) []FileRecord {
	records := []FileRecord{}
	s.load(file, &records)
	return records
}

// SaveHistory persists the file history.
func (s *Store) SaveHistory(file string, records []FileRecord) error {
	return s.save(file, records)
}

// UpdateHistory runs fn on the current history under the document lock and
// persists the result.
func (s *Store) UpdateHistory(file string, fn func([]FileRecord) []FileRecord) error {
	m := s.lock(file)
	m.Lock()
	defer m.Unlock()
	return s.save(file, fn(s.LoadHistory(file)))
}

// LoadSessions returns the upload sessions keyed by session id.
func (s *Store) LoadSessions(file string) map[string]UploadSession {
	sessions := map[string]UploadSession{}
	s.load(file, &sessions)
	return sessions
}

// SaveSessions persists the session map.
func (s *Store) SaveSessions(file string, sessions map[string]UploadSession) error {
	return s.save(file, sessions)
}

// UpdateSessions runs fn on the current session map under the document
// lock and persists the result.
func (s *Store) UpdateSessions(file string, fn func(map[string]UploadSession)) error {
	m := s.lock(file)
	m.Lock()
	defer m.Unlock()
	sessions := s.LoadSessions(file)
	fn(sessions)
	return s.save(file, sessions)
}
