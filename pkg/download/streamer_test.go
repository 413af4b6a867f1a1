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

package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/config"
	"github.com/cs3org/chatvault/pkg/httpclient"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/zippack"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attachmentDiscord serves attachment urls pointing at a test server, keyed
// by message id.
type attachmentDiscord struct {
	baseURL string
}

func (d *attachmentDiscord) GuildFileLimit(ctx context.Context) (int64, error) { return 0, nil }
func (d *attachmentDiscord) EnsureCategory(ctx context.Context, name string) (backend.Channel, error) {
	return backend.Channel{}, errors.New("not implemented")
}
func (d *attachmentDiscord) EnsureChannel(ctx context.Context, name, parentID string) (backend.Channel, error) {
	return backend.Channel{}, errors.New("not implemented")
}
func (d *attachmentDiscord) DeleteChannel(ctx context.Context, id string) error  { return nil }
func (d *attachmentDiscord) DeleteCategory(ctx context.Context, id string) error { return nil }
func (d *attachmentDiscord) SendPart(ctx context.Context, channelID string, data []byte, name, caption string) (int64, string, error) {
	return 0, "", errors.New("not implemented")
}

func (d *attachmentDiscord) AttachmentURL(ctx context.Context, channelID string, messageID int64) (string, error) {
	return fmt.Sprintf("%s/attachments/%d", d.baseURL, messageID), nil
}

type mapTelegram struct {
	files map[string][]byte
}

func (t *mapTelegram) SendDocument(ctx context.Context, data []byte, name, caption string) (int64, string, error) {
	return 0, "", errors.New("not implemented")
}

func (t *mapTelegram) Download(ctx context.Context, fileID string) ([]byte, error) {
	b, ok := t.files[fileID]
	if !ok {
		return nil, errors.Errorf("unknown file id %s", fileID)
	}
	return b, nil
}

func streamConf() *config.Config {
	return &config.Config{
		DownloadRetry:      2,
		DownloadRetryBaseS: 1,
		PartDelay:          0,
		ReadBufferBytes:    8,
	}
}

func pack(t *testing.T, data []byte, entry string) []byte {
	t.Helper()
	b, err := zippack.Pack(data, entry, 0)
	require.NoError(t, err)
	return b
}

func collect(t *testing.T, pieces <-chan Piece) ([]byte, error) {
	t.Helper()
	var out []byte
	for p := range pieces {
		if p.Err != nil {
			return out, p.Err
		}
		out = append(out, p.Data...)
	}
	return out, nil
}

func TestStreamReassemblesMixedParts(t *testing.T) {
	partA := bytes.Repeat([]byte("A"), 20)
	partB := bytes.Repeat([]byte("B"), 20)
	partC := []byte("tail")

	attempts := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts[r.URL.Path]++
		switch r.URL.Path {
		case "/attachments/1":
			_, _ = w.Write(pack(t, partA, "f.bin.part1"))
		case "/attachments/3":
			// First hit returns an empty 200, which must be retried.
			if attempts[r.URL.Path] == 1 {
				return
			}
			_, _ = w.Write(pack(t, partC, "f.bin.part3"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	disc := &attachmentDiscord{baseURL: srv.URL}
	tg := &mapTelegram{files: map[string][]byte{"tg-2": pack(t, partB, "f.bin.part2")}}
	nop := zerolog.Nop()
	s := NewStreamer(disc, tg, httpclient.New(), streamConf(), &nop)

	record := &storage.FileRecord{
		Filename: "f.bin",
		PartsInfo: []storage.PartInfo{
			{Part: 1, Platform: storage.PlatformDiscord, MessageID: 1, ChannelID: "c"},
			{Part: 2, Platform: storage.PlatformTelegram, FileID: "tg-2"},
			{Part: 3, Platform: storage.PlatformDiscord, MessageID: 3, ChannelID: "c"},
		},
	}

	got, err := collect(t, s.Stream(context.Background(), record))
	require.NoError(t, err)
	want := append(append(append([]byte{}, partA...), partB...), partC...)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, attempts["/attachments/3"], "empty body must be retried")
}

func TestStreamLegacyRecordRawPassthrough(t *testing.T) {
	// Pre-parts_info records carry flat message ids and may hold raw,
	// unarchived payloads.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw-bytes"))
	}))
	defer srv.Close()

	disc := &attachmentDiscord{baseURL: srv.URL}
	nop := zerolog.Nop()
	s := NewStreamer(disc, nil, httpclient.New(), streamConf(), &nop)

	record := &storage.FileRecord{Filename: "old.bin", ChannelID: "c", MessageIDs: []int64{7}}
	got, err := collect(t, s.Stream(context.Background(), record))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-bytes"), got)
}

func TestStreamEmitsSingleErrorAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	disc := &attachmentDiscord{baseURL: srv.URL}
	nop := zerolog.Nop()
	s := NewStreamer(disc, nil, httpclient.New(), streamConf(), &nop)

	record := &storage.FileRecord{Filename: "f.bin", ChannelID: "c", MessageIDs: []int64{1, 2}}
	pieces := s.Stream(context.Background(), record)

	var errs int
	for p := range pieces {
		if p.Err != nil {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
}

func TestStreamTelegramPartWithoutBackend(t *testing.T) {
	disc := &attachmentDiscord{baseURL: "http://invalid"}
	nop := zerolog.Nop()
	s := NewStreamer(disc, nil, httpclient.New(), streamConf(), &nop)

	record := &storage.FileRecord{
		Filename:  "f.bin",
		PartsInfo: []storage.PartInfo{{Part: 1, Platform: storage.PlatformTelegram, FileID: "x"}},
	}
	_, err := collect(t, s.Stream(context.Background(), record))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
