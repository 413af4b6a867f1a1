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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cs3org/chatvault/pkg/appctx"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/upload"
	"github.com/go-chi/chi/v5"
)

type initUploadRequest struct {
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	TotalChunks int    `json:"total_chunks"`
	FolderID    string `json:"folder_id"`
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
}

func (s *svc) handleInitUpload(w http.ResponseWriter, r *http.Request) {
	var req initUploadRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Filename == "" {
		req.Filename = "file"
	}
	if req.TotalChunks < 1 {
		req.TotalChunks = 1
	}

	// Resume: the prior session is taken over only while its sender is
	// still alive, anything else is purged and restarted from scratch.
	if req.SessionID != "" {
		sess, ok := s.sessions.Get(req.SessionID)
		_, alive := s.registry.Get(req.SessionID)
		if ok && alive && sess.Status == storage.SessionUploading {
			s.log.Info().Str("session", req.SessionID).Ints("received", sess.ReceivedChunks).
				Msg("chatvault: resuming upload")
			writeJSON(w, http.StatusOK, map[string]any{
				"session_id":      req.SessionID,
				"received_chunks": sess.ReceivedChunks,
				"chunk_size":      s.conf.ClientChunkBytes,
			})
			return
		}
		if e, ok := s.registry.Remove(req.SessionID); ok {
			e.Cancel()
		}
		_ = s.sessions.Delete(req.SessionID)
	}

	var parentID, folderName string
	if req.FolderID != "" {
		if f, ok := s.findFolder(req.FolderID); ok {
			parentID = strconv.FormatInt(f.DiscordCategoryID, 10)
			folderName = f.Name
		}
	}

	channel, err := s.discord.EnsureChannel(r.Context(), req.Filename, parentID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.sessions.Create(req.Filename, req.FileSize, req.TotalChunks, req.FolderID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.sessions.Update(sess.SessionID, func(u *storage.UploadSession) {
		u.ChannelID = channel.ID
		u.ChannelName = channel.Name
		u.FolderName = folderName
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The sender outlives this request, it runs on its own context.
	senderCtx, cancel := context.WithCancel(context.Background())
	entry, results := upload.NewEntry(cancel)
	go s.sender.Run(senderCtx, upload.Job{
		SessionID:   sess.SessionID,
		Filename:    req.Filename,
		Message:     req.Message,
		ChannelID:   channel.ID,
		TotalChunks: req.TotalChunks,
	}, entry.Chunks, results)
	s.registry.Add(sess.SessionID, entry)

	s.log.Info().Str("session", sess.SessionID).Str("file", req.Filename).
		Msg("chatvault: sender started")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":      sess.SessionID,
		"received_chunks": []int{},
		"chunk_size":      s.conf.ClientChunkBytes,
	})
}

func (s *svc) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sid")
	chunkIndex, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || chunkIndex < 0 {
		writeDetail(w, http.StatusBadRequest, "chunk index không hợp lệ")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.conf.ChunkBodyLimit()))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Chunk quá lớn")
		return
	}

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session không tồn tại")
		return
	}
	if sess.Status != storage.SessionUploading && sess.Status != storage.SessionSending {
		writeDetail(w, http.StatusBadRequest, "Session status: "+sess.Status)
		return
	}
	if len(body) == 0 {
		writeDetail(w, http.StatusBadRequest, "Chunk rỗng")
		return
	}

	entry, ok := s.registry.Get(sessionID)
	if !ok || !entry.TrySend(upload.Chunk{Index: chunkIndex, Data: body}) {
		writeDetail(w, http.StatusInternalServerError, "Sender task không còn hoạt động")
		return
	}

	if err := s.sessions.MarkChunkReceived(sessionID, chunkIndex); err != nil {
		s.writeError(w, err)
		return
	}
	received := 0
	if cur, ok := s.sessions.Get(sessionID); ok {
		received = len(cur.ReceivedChunks)
	}
	appctx.GetLogger(r.Context()).Debug().Int("chunk", chunkIndex+1).Int("total", sess.TotalChunks).
		Int("kb", len(body)/1024).Msg("chatvault: chunk received")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"received": received,
		"total":    sess.TotalChunks,
	})
}

func (s *svc) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "sid"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session không tồn tại")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *svc) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sid")
	if e, ok := s.registry.Remove(sessionID); ok {
		e.Cancel()
	}
	_ = s.sessions.Delete(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *svc) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sid")
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session không tồn tại")
		return
	}
	// Closing the queue early would make the sender flush a truncated
	// file, hold completion until every chunk has landed.
	if len(sess.ReceivedChunks) < sess.TotalChunks {
		writeDetail(w, http.StatusBadRequest,
			fmt.Sprintf("Chưa đủ chunk: %d/%d", len(sess.ReceivedChunks), sess.TotalChunks))
		return
	}
	_ = s.sessions.Update(sessionID, func(u *storage.UploadSession) {
		u.Status = storage.SessionSending
	})

	entry, ok := s.registry.Remove(sessionID)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Không tìm thấy sender task")
		return
	}
	entry.CloseChunks()

	res, ok := <-entry.Result
	if !ok {
		_ = s.sessions.Delete(sessionID)
		writeDetail(w, http.StatusInternalServerError, "Sender task bị huỷ")
		return
	}
	if res.Err != nil {
		_ = s.sessions.Delete(sessionID)
		s.writeError(w, res.Err)
		return
	}

	record := s.buildRecord(&sess, &res)
	err := s.store.UpdateHistory(s.conf.HistoryFile, func(history []storage.FileRecord) []storage.FileRecord {
		return append([]storage.FileRecord{record}, history...)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	_ = s.sessions.Delete(sessionID)

	s.log.Info().Str("file", sess.Filename).Int("parts", res.Parts).
		Msg("chatvault: upload complete")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "record": record})
}

func (s *svc) buildRecord(sess *storage.UploadSession, res *upload.Result) storage.FileRecord {
	var label string
	switch res.Method {
	case upload.MethodDirect:
		label = "Gửi thẳng"
	case upload.MethodSplit:
		label = fmt.Sprintf("Chia %d phần (Discord)", res.Parts)
	case upload.MethodDual:
		label = fmt.Sprintf("Chia %d phần (Discord+Telegram)", res.Parts)
	default:
		label = fmt.Sprintf("Chia %d phần", res.Parts)
	}

	var folderID json.RawMessage
	if sess.FolderID != "" {
		folderID, _ = json.Marshal(sess.FolderID)
	}
	var jumpURL string
	if len(res.JumpURLs) > 0 {
		jumpURL = res.JumpURLs[0]
	}

	return storage.FileRecord{
		ID:          storage.TimestampMS(),
		Filename:    sess.Filename,
		SizeMB:      round2(float64(sess.FileSize) / 1024 / 1024),
		ChannelID:   sess.ChannelID,
		ChannelName: sess.ChannelName,
		FolderID:    folderID,
		FolderName:  sess.FolderName,
		Status:      "sent",
		Method:      label,
		MethodKey:   res.Method,
		Parts:       res.Parts,
		PartsInfo:   res.PartsInfo,
		MessageIDs:  res.MessageIDs,
		JumpURL:     jumpURL,
		SentAt:      storage.DisplayTime(time.Now()),
	}
}
