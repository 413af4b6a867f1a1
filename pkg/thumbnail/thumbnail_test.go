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

package thumbnail

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/config"
	"github.com/cs3org/chatvault/pkg/download"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/httpclient"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/zippack"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type urlDiscord struct{ url string }

func (d *urlDiscord) GuildFileLimit(ctx context.Context) (int64, error) { return 0, nil }
func (d *urlDiscord) EnsureCategory(ctx context.Context, name string) (backend.Channel, error) {
	return backend.Channel{}, errors.New("not implemented")
}
func (d *urlDiscord) EnsureChannel(ctx context.Context, name, parentID string) (backend.Channel, error) {
	return backend.Channel{}, errors.New("not implemented")
}
func (d *urlDiscord) DeleteChannel(ctx context.Context, id string) error  { return nil }
func (d *urlDiscord) DeleteCategory(ctx context.Context, id string) error { return nil }
func (d *urlDiscord) SendPart(ctx context.Context, channelID string, data []byte, name, caption string) (int64, string, error) {
	return 0, "", errors.New("not implemented")
}
func (d *urlDiscord) AttachmentURL(ctx context.Context, channelID string, messageID int64) (string, error) {
	return d.url, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestGenerator(t *testing.T, payload []byte) (*Generator, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	nop := zerolog.Nop()
	conf := &config.Config{DownloadRetry: 1, DownloadRetryBaseS: 1, ReadBufferBytes: 4096}
	streamer := download.NewStreamer(&urlDiscord{url: srv.URL}, nil, httpclient.New(), conf, &nop)
	dir := t.TempDir()
	return NewGenerator(streamer, dir, &nop), dir
}

func TestGetRendersAndCaches(t *testing.T) {
	src := pngBytes(t, 800, 600)
	packed, err := zippack.Pack(src, "photo.png.part1", 0)
	require.NoError(t, err)
	g, _ := newTestGenerator(t, packed)

	record := &storage.FileRecord{ID: 42, Filename: "photo.png", ChannelID: "c", MessageIDs: []int64{1}}
	thumb, err := g.Get(context.Background(), record)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 192, img.Bounds().Dy())

	cached, err := os.ReadFile(g.CachePath(42))
	require.NoError(t, err)
	assert.Equal(t, thumb, cached)
}

func TestGetServesFromCache(t *testing.T) {
	g, _ := newTestGenerator(t, []byte("not an image"))
	record := &storage.FileRecord{ID: 7, Filename: "pic.jpg", ChannelID: "c", MessageIDs: []int64{1}}

	// Pre-seed the cache: the broken stream payload must never be touched.
	require.NoError(t, os.WriteFile(g.CachePath(7), []byte("cached-jpeg"), 0644))
	thumb, err := g.Get(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-jpeg"), thumb)
}

func TestGetRejectsNonVisualFiles(t *testing.T) {
	g, _ := newTestGenerator(t, nil)
	_, err := g.Get(context.Background(), &storage.FileRecord{ID: 1, Filename: "song.mp3"})
	require.Error(t, err)
	var ns errtypes.IsNotSupported
	assert.ErrorAs(t, err, &ns)
}

func TestGetRejectsLargeVideos(t *testing.T) {
	g, _ := newTestGenerator(t, nil)
	_, err := g.Get(context.Background(), &storage.FileRecord{ID: 1, Filename: "movie.mkv", SizeMB: 250})
	require.Error(t, err)
	var ns errtypes.IsNotSupported
	assert.ErrorAs(t, err, &ns)
}

func TestRemove(t *testing.T) {
	g, _ := newTestGenerator(t, nil)
	require.NoError(t, os.WriteFile(g.CachePath(9), []byte("x"), 0644))
	g.Remove(9)
	_, err := os.Stat(g.CachePath(9))
	assert.True(t, os.IsNotExist(err))
	g.Remove(9) // missing entry is fine
}
