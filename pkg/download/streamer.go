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

// Package download reassembles a stored file from its parts and streams it
// to a consumer without materializing the whole file in memory.
package download

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/config"
	"github.com/cs3org/chatvault/pkg/httpclient"
	"github.com/cs3org/chatvault/pkg/retry"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/zippack"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// deliveryCap bounds the channel between the fetcher and the HTTP writer.
const deliveryCap = 16

// Piece is one item of the reassembled stream: a slice of file bytes or the
// single terminal error.
type Piece struct {
	Data []byte
	Err  error
}

// Streamer fetches, unpacks and re-slices the parts of a file record in
// order.
type Streamer struct {
	discord  backend.Discord
	telegram backend.Telegram // nil when not configured
	http     *httpclient.Client
	conf     *config.Config
	log      *zerolog.Logger
}

// NewStreamer creates a streamer.
func NewStreamer(discord backend.Discord, telegram backend.Telegram, hc *httpclient.Client, conf *config.Config, log *zerolog.Logger) *Streamer {
	return &Streamer{discord: discord, telegram: telegram, http: hc, conf: conf, log: log}
}

// Stream spawns the fetcher and returns the bounded delivery channel. The
// channel is closed when the file is fully delivered, after the first error
// or when ctx is cancelled.
func (s *Streamer) Stream(ctx context.Context, record *storage.FileRecord) <-chan Piece {
	out := make(chan Piece, deliveryCap)
	go s.fetch(ctx, record, out)
	return out
}

func (s *Streamer) fetch(ctx context.Context, record *storage.FileRecord, out chan<- Piece) {
	defer close(out)

	for _, part := range record.PartsList() {
		blob, err := s.fetchPart(ctx, part)
		if err != nil {
			s.log.Error().Err(err).Str("file", record.Filename).Int("part", part.Part).
				Msg("download: part fetch failed")
			select {
			case out <- Piece{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		raw, err := zippack.UnpackOrRaw(blob)
		if err != nil {
			select {
			case out <- Piece{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		for off := 0; off < len(raw); off += s.conf.ReadBufferBytes {
			end := off + s.conf.ReadBufferBytes
			if end > len(raw) {
				end = len(raw)
			}
			select {
			case out <- Piece{Data: raw[off:end]}:
			case <-ctx.Done():
				return
			}
		}

		if s.conf.PartDelay > 0 {
			select {
			case <-time.After(s.conf.PartDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Streamer) fetchPart(ctx context.Context, part storage.PartInfo) ([]byte, error) {
	if part.Platform == storage.PlatformTelegram {
		if s.telegram == nil {
			return nil, errors.Errorf("part %d lives on telegram but telegram is not configured", part.Part)
		}
		var blob []byte
		err := retry.Do(ctx, s.conf.DownloadRetry, s.conf.DownloadRetryBaseS, func() error {
			b, err := s.telegram.Download(ctx, part.FileID)
			if err != nil {
				return err
			}
			blob = b
			return nil
		})
		return blob, err
	}

	var blob []byte
	err := retry.Do(ctx, s.conf.DownloadRetry, s.conf.DownloadRetryBaseS, func() error {
		url, err := s.discord.AttachmentURL(ctx, part.ChannelID, part.MessageID)
		if err != nil {
			return err
		}
		b, err := s.get(ctx, url)
		if err != nil {
			s.log.Warn().Err(err).Int("part", part.Part).Msg("download: attachment fetch failed")
			return err
		}
		blob = b
		return nil
	})
	return blob, err
}

// get downloads one attachment. An empty 200 body counts as a failure so
// the retry loop takes another pass.
func (s *Streamer) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "download: error creating request")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download: error fetching attachment")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("download: attachment fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "download: error reading attachment body")
	}
	if len(data) == 0 {
		return nil, errors.New("download: attachment body is empty")
	}
	return data, nil
}
