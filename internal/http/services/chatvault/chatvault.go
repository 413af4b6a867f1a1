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

// Package chatvault exposes the file store as an HTTP API: folder and file
// management, chunked uploads with resume, streamed downloads, thumbnails,
// search, stats and settings.
package chatvault

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cs3org/chatvault/pkg/appctx"
	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/config"
	"github.com/cs3org/chatvault/pkg/download"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/thumbnail"
	"github.com/cs3org/chatvault/pkg/upload"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Options carries the collaborators of the service.
type Options struct {
	BaseDir  string
	Conf     *config.Config
	Discord  backend.Discord
	Store    *storage.Store
	Sessions *upload.Sessions
	Registry *upload.Registry
	Sender   *upload.Sender
	Streamer *download.Streamer
	Thumbs   *thumbnail.Generator
	Log      *zerolog.Logger
}

type svc struct {
	baseDir  string
	conf     *config.Config
	discord  backend.Discord
	store    *storage.Store
	sessions *upload.Sessions
	registry *upload.Registry
	sender   *upload.Sender
	streamer *download.Streamer
	thumbs   *thumbnail.Generator
	log      *zerolog.Logger
	router   chi.Router
}

// New creates the service and wires its routes.
func New(o Options) *svc {
	s := &svc{
		baseDir:  o.BaseDir,
		conf:     o.Conf,
		discord:  o.Discord,
		store:    o.Store,
		sessions: o.Sessions,
		registry: o.Registry,
		sender:   o.Sender,
		streamer: o.Streamer,
		thumbs:   o.Thumbs,
		log:      o.Log,
	}
	s.initRouter()
	return s
}

// Handler returns the HTTP handler of the service.
func (s *svc) Handler() http.Handler {
	return s.router
}

// Close releases resources held by the service.
func (s *svc) Close() error {
	return nil
}

func (s *svc) initRouter() {
	r := chi.NewRouter()
	r.Use(s.logCtx)

	r.Get("/health", s.handleHealth)

	r.Route("/folders", func(r chi.Router) {
		r.Get("/", s.handleListFolders)
		r.Post("/", s.handleCreateFolder)
		r.Delete("/{id}", s.handleDeleteFolder)
	})

	r.Route("/files", func(r chi.Router) {
		r.Get("/", s.handleListFiles)
		r.Delete("/{id}", s.handleDeleteFile)
		r.Patch("/{id}", s.handleRenameFile)
		r.Post("/{id}/move", s.handleMoveFile)
	})

	r.Get("/merge/{id}", s.handleMerge)
	r.Get("/preview/{id}", s.handlePreview)
	r.Get("/thumbnail/{id}", s.handleThumbnail)

	r.Route("/upload", func(r chi.Router) {
		r.Post("/init", s.handleInitUpload)
		r.Post("/chunk/{sid}/{idx}", s.handleUploadChunk)
		r.Get("/session/{sid}", s.handleGetSession)
		r.Delete("/session/{sid}", s.handleCancelUpload)
		r.Post("/complete/{sid}", s.handleCompleteUpload)
	})

	r.Get("/search", s.handleSearch)
	r.Get("/stats", s.handleStats)
	r.Get("/settings", s.handleGetSettings)
	r.Post("/settings", s.handleSaveSettings)

	s.router = r
}

// logCtx makes the service logger available to handlers through the
// request context.
func (s *svc) logCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := s.log.With().Str("path", r.URL.Path).Logger()
		next.ServeHTTP(w, r.WithContext(appctx.WithLogger(r.Context(), &sub)))
	})
}

func (s *svc) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kinds onto the HTTP statuses of the API and
// renders the {detail} error shape.
func (s *svc) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case errtypes.IsNotFound:
		status = http.StatusNotFound
	case errtypes.IsBadRequest:
		status = http.StatusBadRequest
	case errtypes.IsNotSupported:
		status = http.StatusUnsupportedMediaType
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("chatvault: request failed")
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

// writeDetail renders a {detail} error with an explicit status and message.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// PruneRemote drops local state for a channel or category that was deleted
// directly on Discord. Wired to the gateway delete events.
func (s *svc) PruneRemote(id string, isCategory bool) {
	if isCategory {
		err := s.store.UpdateFolders(s.conf.FoldersFile, func(folders []storage.Folder) []storage.Folder {
			kept := folders[:0]
			for _, f := range folders {
				if strconv.FormatInt(f.DiscordCategoryID, 10) != id {
					kept = append(kept, f)
				}
			}
			return kept
		})
		if err != nil {
			s.log.Warn().Err(err).Str("category", id).Msg("chatvault: error pruning folders")
		}
		return
	}

	var removed []int64
	err := s.store.UpdateHistory(s.conf.HistoryFile, func(history []storage.FileRecord) []storage.FileRecord {
		kept := history[:0]
		for _, f := range history {
			if f.ChannelID == id {
				removed = append(removed, f.ID)
				continue
			}
			kept = append(kept, f)
		}
		return kept
	})
	if err != nil {
		s.log.Warn().Err(err).Str("channel", id).Msg("chatvault: error pruning history")
		return
	}
	for _, fid := range removed {
		s.thumbs.Remove(fid)
	}
}
