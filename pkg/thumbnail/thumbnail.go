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

// Package thumbnail renders and caches jpeg previews of stored files.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	// registers the decoders image.Decode probes.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/cs3org/chatvault/pkg/download"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/mime"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CacheDir is the directory below the base dir holding rendered thumbnails.
const CacheDir = "thumbnails_cache"

const (
	// maxProbeBytes caps how much of the stream is pulled for decoding.
	maxProbeBytes = 10 * 1024 * 1024
	// maxVideoMB is the size above which video files get no thumbnail.
	maxVideoMB = 200
	// thumbSide is the bounding box of the rendered thumbnail.
	thumbSide = 256

	jpegQuality = 85
)

// Generator renders thumbnails by decoding the head of the reassembled
// stream and caching the scaled jpeg on disk.
type Generator struct {
	streamer *download.Streamer
	cacheDir string
	log      *zerolog.Logger
}

// NewGenerator creates a generator caching below baseDir.
func NewGenerator(streamer *download.Streamer, baseDir string, log *zerolog.Logger) *Generator {
	dir := filepath.Join(baseDir, CacheDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("thumbnail: error creating cache dir")
	}
	return &Generator{streamer: streamer, cacheDir: dir, log: log}
}

// CachePath returns the on-disk location of the thumbnail for a file id.
func (g *Generator) CachePath(fileID int64) string {
	return filepath.Join(g.cacheDir, fmt.Sprintf("%d.jpg", fileID))
}

// Remove drops the cached thumbnail of a file, if any.
func (g *Generator) Remove(fileID int64) {
	if err := os.Remove(g.CachePath(fileID)); err != nil && !os.IsNotExist(err) {
		g.log.Warn().Err(err).Int64("file", fileID).Msg("thumbnail: error removing cache entry")
	}
}

// Get returns the jpeg thumbnail for the record, rendering and caching it
// on first access. Non-visual files and large videos are not supported.
func (g *Generator) Get(ctx context.Context, record *storage.FileRecord) ([]byte, error) {
	category := mime.Category(record.Filename)
	if category != mime.CategoryImage && category != mime.CategoryVideo {
		return nil, errtypes.NotSupported("no thumbnail for " + record.Filename)
	}
	if category == mime.CategoryVideo && record.SizeMB > maxVideoMB {
		return nil, errtypes.NotSupported(fmt.Sprintf("video too large for thumbnail (%.2f MB)", record.SizeMB))
	}

	path := g.CachePath(record.ID)
	if cached, err := os.ReadFile(path); err == nil {
		return cached, nil
	}

	head, err := g.head(ctx, record)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(head))
	if err != nil {
		return nil, errors.Wrap(err, "thumbnail: error decoding "+record.Filename)
	}

	w, h := fit(img.Bounds().Dx(), img.Bounds().Dy())
	scaled := transform.Resize(img, w, h, transform.Linear)

	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(jpegQuality)(&buf, scaled); err != nil {
		return nil, errors.Wrap(err, "thumbnail: error encoding jpeg")
	}

	// Cache write is best effort, a miss just re-renders.
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		g.log.Warn().Err(err).Str("path", path).Msg("thumbnail: error writing cache entry")
	}
	return buf.Bytes(), nil
}

// head pulls at most maxProbeBytes from the reassembled stream, then stops
// the fetcher by cancelling its context.
func (g *Generator) head(ctx context.Context, record *storage.FileRecord) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var head []byte
	for piece := range g.streamer.Stream(ctx, record) {
		if piece.Err != nil {
			return nil, piece.Err
		}
		head = append(head, piece.Data...)
		if len(head) >= maxProbeBytes {
			break
		}
	}
	if len(head) > maxProbeBytes {
		head = head[:maxProbeBytes]
	}
	return head, nil
}

// fit scales the source dimensions into the thumbnail bounding box while
// keeping the aspect ratio.
func fit(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return thumbSide, thumbSide
	}
	if w <= thumbSide && h <= thumbSide {
		return w, h
	}
	if w > h {
		return thumbSide, max(1, h*thumbSide/w)
	}
	return max(1, w*thumbSide/h), thumbSide
}
