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

package chatvault

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/cs3org/chatvault/pkg/appctx"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/mime"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/go-chi/chi/v5"
)

func (s *svc) findRecord(id int64) (storage.FileRecord, bool) {
	for _, f := range s.store.LoadHistory(s.conf.HistoryFile) {
		if f.ID == id {
			return f, true
		}
	}
	return storage.FileRecord{}, false
}

func fileID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *svc) handleListFiles(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")
	files := []storage.FileRecord{}
	for _, f := range s.store.LoadHistory(s.conf.HistoryFile) {
		if f.FolderIDString() == folderID {
			files = append(files, f)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *svc) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id không hợp lệ")
		return
	}

	if r.URL.Query().Get("delete_channel") == "true" {
		if rec, ok := s.findRecord(id); ok && rec.ChannelID != "" {
			if err := s.discord.DeleteChannel(r.Context(), rec.ChannelID); err != nil {
				s.log.Warn().Err(err).Int64("file", id).Msg("chatvault: error deleting channel")
			}
		}
	}

	err = s.store.UpdateHistory(s.conf.HistoryFile, func(history []storage.FileRecord) []storage.FileRecord {
		kept := history[:0]
		for _, f := range history {
			if f.ID != id {
				kept = append(kept, f)
			}
		}
		return kept
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.thumbs.Remove(id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *svc) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id không hợp lệ")
		return
	}
	var body struct {
		Filename string `json:"filename"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	name := strings.TrimSpace(body.Filename)
	if name == "" {
		writeDetail(w, http.StatusBadRequest, "Tên không được trống")
		return
	}

	err = s.store.UpdateHistory(s.conf.HistoryFile, func(history []storage.FileRecord) []storage.FileRecord {
		for i := range history {
			if history[i].ID == id {
				history[i].Filename = name
				break
			}
		}
		return history
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *svc) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id không hợp lệ")
		return
	}
	var body struct {
		FolderID json.RawMessage `json:"folder_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	target := body.FolderID
	if string(target) == "null" {
		target = nil
	}
	var folderName string
	if len(target) > 0 {
		fid := rawToString(target)
		if f, ok := s.findFolder(fid); ok {
			folderName = f.Name
		}
	}

	err = s.store.UpdateHistory(s.conf.HistoryFile, func(history []storage.FileRecord) []storage.FileRecord {
		for i := range history {
			if history[i].ID == id {
				history[i].FolderID = target
				history[i].FolderName = folderName
				break
			}
		}
		return history
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// rawToString normalizes a raw folder id (string or legacy number) to its
// plain form.
func rawToString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

func (s *svc) handleMerge(w http.ResponseWriter, r *http.Request) {
	s.streamFile(w, r, false)
}

func (s *svc) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.streamFile(w, r, true)
}

// streamFile forwards the reassembly channel to the response body. Errors
// past the first byte can only truncate the stream.
func (s *svc) streamFile(w http.ResponseWriter, r *http.Request, inline bool) {
	id, err := fileID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id không hợp lệ")
		return
	}
	rec, ok := s.findRecord(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, "File không tồn tại")
		return
	}

	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", mime.Detect(rec.Filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, rec.Filename))

	log := appctx.GetLogger(r.Context())
	flusher, _ := w.(http.Flusher)
	for piece := range s.streamer.Stream(r.Context(), &rec) {
		if piece.Err != nil {
			log.Error().Err(piece.Err).Int64("file", id).Msg("chatvault: stream aborted")
			return
		}
		if _, err := w.Write(piece.Data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *svc) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id không hợp lệ")
		return
	}
	rec, ok := s.findRecord(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, "File không tồn tại")
		return
	}

	thumb, err := s.thumbs.Get(r.Context(), &rec)
	if err != nil {
		if _, ok := err.(errtypes.IsNotSupported); ok {
			s.writeError(w, err)
			return
		}
		writeDetail(w, http.StatusInternalServerError, "Không thể tạo thumbnail: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(thumb)
}

func (s *svc) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	files := []storage.FileRecord{}
	if q != "" {
		for _, f := range s.store.LoadHistory(s.conf.HistoryFile) {
			if strings.Contains(strings.ToLower(f.Filename), q) {
				files = append(files, f)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *svc) handleStats(w http.ResponseWriter, r *http.Request) {
	history := s.store.LoadHistory(s.conf.HistoryFile)
	folders := s.store.LoadFolders(s.conf.FoldersFile)
	var totalMB float64
	for _, f := range history {
		totalMB += f.SizeMB
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_files":   len(history),
		"total_folders": len(folders),
		"total_mb":      round2(totalMB),
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
