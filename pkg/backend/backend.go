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

// Package backend defines the capabilities the upload and download paths
// need from the two chat services used as blob stores.
package backend

import "context"

// Channel identifies a Discord channel or category.
type Channel struct {
	ID   string
	Name string
}

// Discord is the primary backend: folders are categories, every file gets
// its own channel, parts are message attachments.
type Discord interface {
	// GuildFileLimit returns the hard per-attachment cap of the guild,
	// derived from its boost tier.
	GuildFileLimit(ctx context.Context) (int64, error)
	// EnsureCategory returns the category with the sanitized name,
	// creating it when missing.
	EnsureCategory(ctx context.Context, name string) (Channel, error)
	// EnsureChannel returns the text channel with the sanitized name
	// below parentID (optional), creating it when missing.
	EnsureChannel(ctx context.Context, name, parentID string) (Channel, error)
	// DeleteChannel removes a channel.
	DeleteChannel(ctx context.Context, id string) error
	// DeleteCategory removes a category, but only when it has no child
	// channels left.
	DeleteCategory(ctx context.Context, id string) error
	// SendPart posts one archived part as an attachment.
	SendPart(ctx context.Context, channelID string, data []byte, name, caption string) (messageID int64, jumpURL string, err error)
	// AttachmentURL resolves the download url of the first attachment of
	// a message.
	AttachmentURL(ctx context.Context, channelID string, messageID int64) (string, error)
}

// Telegram is the secondary backend: parts are documents in a single chat.
type Telegram interface {
	// SendDocument posts one archived part with a caption.
	SendDocument(ctx context.Context, data []byte, name, caption string) (messageID int64, fileID string, err error)
	// Download fetches a stored document by its file id.
	Download(ctx context.Context, fileID string) ([]byte, error)
}
