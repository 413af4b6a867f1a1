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
	"time"
)

// Platform names used in PartInfo records.
const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

// Upload session states.
const (
	SessionUploading = "uploading"
	SessionSending   = "sending"
)

// Folder maps a Discord category to a browsable folder.
type Folder struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	DiscordCategoryID int64  `json:"discord_category_id"`
	CreatedAt         string `json:"created_at"`
}

// PartInfo locates one stored part. Exactly one of ChannelID (discord) or
// FileID (telegram) is set, depending on Platform.
type PartInfo struct {
	Part       int    `json:"part"`
	Platform   string `json:"platform"`
	MessageID  int64  `json:"message_id"`
	ChannelID  string `json:"channel_id,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	JumpURL    string `json:"jump_url,omitempty"`
}

// FileRecord is one uploaded file in the history.
//
// FolderID is kept as a raw JSON value: old records stored it as a number,
// newer ones as a string, and both must keep round-tripping.
type FileRecord struct {
	ID          int64           `json:"id"`
	Filename    string          `json:"filename"`
	SizeMB      float64         `json:"size_mb"`
	ChannelID   string          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	FolderID    json.RawMessage `json:"folder_id,omitempty"`
	FolderName  string          `json:"folder_name,omitempty"`
	Status      string          `json:"status"`
	Method      string          `json:"method"`
	MethodKey   string          `json:"method_key"`
	Parts       int             `json:"parts"`
	PartsInfo   []PartInfo      `json:"parts_info"`
	MessageIDs  []int64         `json:"message_ids"`
	JumpURL     string          `json:"jump_url,omitempty"`
	SentAt      string          `json:"sent_at"`
}

// FolderIDString returns the folder id as a plain string, or "" when the
// record is not in a folder.
func (r *FileRecord) FolderIDString() string {
	if len(r.FolderID) == 0 || string(r.FolderID) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.FolderID, &s); err == nil {
		return s
	}
	// legacy numeric id
	return string(r.FolderID)
}

// PartsList returns the parts of the record in part order. Records written
// before parts_info existed only carry flat message ids; those are treated
// as Discord parts in the record's own channel.
func (r *FileRecord) PartsList() []PartInfo {
	if len(r.PartsInfo) > 0 {
		return r.PartsInfo
	}
	parts := make([]PartInfo, 0, len(r.MessageIDs))
	for i, mid := range r.MessageIDs {
		parts = append(parts, PartInfo{
			Part:      i + 1,
			Platform:  PlatformDiscord,
			MessageID: mid,
			ChannelID: r.ChannelID,
		})
	}
	return parts
}

// UploadSession tracks an upload in progress, keyed by a 12-hex id.
type UploadSession struct {
	SessionID      string          `json:"session_id"`
	Filename       string          `json:"filename"`
	FileSize       int64           `json:"file_size"`
	TotalChunks    int             `json:"total_chunks"`
	ReceivedChunks []int           `json:"received_chunks"`
	FolderID       string          `json:"folder_id"`
	Message        string          `json:"message"`
	Status         string          `json:"status"`
	CreatedAt      string          `json:"created_at"`
	ChannelID      string          `json:"channel_id,omitempty"`
	ChannelName    string          `json:"channel_name,omitempty"`
	FolderName     string          `json:"folder_name,omitempty"`
	DiscordResult  json.RawMessage `json:"discord_result,omitempty"`
}

// TimestampMS returns the current time in unix milliseconds, used for
// folder and file ids.
func TimestampMS() int64 {
	return time.Now().UnixMilli()
}

// DisplayTime formats a timestamp for the UI, local time.
func DisplayTime(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}

// NowRFC3339 returns the current UTC time in RFC3339, used for session
// created_at fields.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
