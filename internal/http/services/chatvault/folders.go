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
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/go-chi/chi/v5"
)

func (s *svc) handleListFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"folders": s.store.LoadFolders(s.conf.FoldersFile),
	})
}

func (s *svc) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeDetail(w, http.StatusBadRequest, "Tên folder không được trống")
		return
	}

	cat, err := s.discord.EnsureCategory(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	catID, err := strconv.ParseInt(cat.ID, 10, 64)
	if err != nil {
		s.writeError(w, err)
		return
	}

	folder := storage.Folder{
		ID:                storage.TimestampMS(),
		Name:              name,
		DiscordCategoryID: catID,
		CreatedAt:         storage.DisplayTime(time.Now()),
	}
	err = s.store.UpdateFolders(s.conf.FoldersFile, func(folders []storage.Folder) []storage.Folder {
		return append([]storage.Folder{folder}, folders...)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "folder": folder})
}

func (s *svc) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id không hợp lệ")
		return
	}

	for _, f := range s.store.LoadFolders(s.conf.FoldersFile) {
		if f.ID != folderID {
			continue
		}
		// Remote delete is best effort, the folder entry goes regardless.
		if err := s.discord.DeleteCategory(r.Context(), strconv.FormatInt(f.DiscordCategoryID, 10)); err != nil {
			s.log.Warn().Err(err).Int64("folder", folderID).Msg("chatvault: error deleting category")
		}
		break
	}

	err = s.store.UpdateFolders(s.conf.FoldersFile, func(folders []storage.Folder) []storage.Folder {
		kept := folders[:0]
		for _, f := range folders {
			if f.ID != folderID {
				kept = append(kept, f)
			}
		}
		return kept
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// findFolder resolves a folder by its string id.
func (s *svc) findFolder(id string) (storage.Folder, bool) {
	for _, f := range s.store.LoadFolders(s.conf.FoldersFile) {
		if strconv.FormatInt(f.ID, 10) == id {
			return f, true
		}
	}
	return storage.Folder{}, false
}
