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

// Package mime resolves content types and coarse file categories from
// filename extensions. The table is fixed on purpose: responses must not
// depend on the mime databases installed on the host.
package mime

import (
	"path"
	"strings"
)

const defaultMime = "application/octet-stream"

var mimes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"md":   "text/plain",
	"log":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
}

// Category labels used to decide thumbnail eligibility.
const (
	CategoryImage = "image"
	CategoryVideo = "video"
	CategoryAudio = "audio"
	CategoryPDF   = "pdf"
	CategoryText  = "text"
)

var categories = map[string]string{
	"jpg": CategoryImage, "jpeg": CategoryImage, "png": CategoryImage,
	"gif": CategoryImage, "webp": CategoryImage, "bmp": CategoryImage,
	"tiff": CategoryImage, "svg": CategoryImage, "ico": CategoryImage,
	"mp4": CategoryVideo, "webm": CategoryVideo, "mkv": CategoryVideo,
	"avi": CategoryVideo, "mov": CategoryVideo, "wmv": CategoryVideo,
	"flv": CategoryVideo, "m4v": CategoryVideo,
	"mp3": CategoryAudio, "wav": CategoryAudio, "ogg": CategoryAudio,
	"flac": CategoryAudio, "aac": CategoryAudio, "m4a": CategoryAudio,
	"wma": CategoryAudio,
	"pdf": CategoryPDF,
}

func ext(fn string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(fn), "."))
}

// Detect returns the content type associated with the given filename.
func Detect(fn string) string {
	if m, ok := mimes[ext(fn)]; ok {
		return m
	}
	return defaultMime
}

// Category returns the coarse category of the given filename.
func Category(fn string) string {
	if c, ok := categories[ext(fn)]; ok {
		return c
	}
	return CategoryText
}
