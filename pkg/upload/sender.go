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

package upload

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/config"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/retry"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/zippack"
	"github.com/rs/zerolog"
)

// Method keys recorded in the file history.
const (
	MethodDirect = "direct"
	MethodSplit  = "split"
	MethodDual   = "dual"
)

// dispatchPoll is how long the sender sleeps between reap passes while
// dispatches are outstanding.
const dispatchPoll = 50 * time.Millisecond

// Result is what a finished sender delivers: either a fully described part
// set or the first error that killed the upload.
type Result struct {
	Method     string
	Parts      int
	PartsInfo  []storage.PartInfo
	MessageIDs []int64
	JumpURLs   []string
	Err        error
}

// Job describes one upload for the sender.
type Job struct {
	SessionID   string
	Filename    string
	Message     string
	ChannelID   string
	TotalChunks int
}

// Sender drains an in-order prefix of the posted chunks into size-bounded
// parts and fans them out to the two backends.
type Sender struct {
	discord  backend.Discord
	telegram backend.Telegram // nil when not configured
	conf     *config.Config
	log      *zerolog.Logger
}

// NewSender creates a sender. telegram may be nil, in which case every part
// goes to Discord.
func NewSender(discord backend.Discord, telegram backend.Telegram, conf *config.Config, log *zerolog.Logger) *Sender {
	return &Sender{discord: discord, telegram: telegram, conf: conf, log: log}
}

// Run executes the sender loop for one job and delivers exactly one Result
// on the result channel. Meant to be spawned as a goroutine at init time.
func (s *Sender) Run(ctx context.Context, job Job, chunks <-chan Chunk, results chan<- Result) {
	res := s.run(ctx, job, chunks)
	if res.Err != nil {
		s.log.Error().Err(res.Err).Str("session", job.SessionID).Msg("upload: sender failed")
	} else {
		s.log.Info().Str("session", job.SessionID).Str("method", res.Method).
			Int("parts", res.Parts).Msg("upload: sender finished")
	}
	results <- res
}

// inputLimit computes the uncompressed byte budget for a single part: the
// guild cap scaled by the safe ratio, further capped by the Telegram budget
// when that backend is in play.
func (s *Sender) inputLimit(guildLimit int64) int64 {
	limit := int64(float64(guildLimit) * s.conf.DiscordSafeRatio)
	if s.telegram != nil {
		if tg := int64(float64(s.conf.TgFileLimitBytes) * s.conf.DiscordSafeRatio); tg < limit {
			limit = tg
		}
	}
	return limit
}

type dispatched struct {
	part storage.PartInfo
	err  error
}

func (s *Sender) run(ctx context.Context, job Job, chunks <-chan Chunk) Result {
	guildLimit, err := s.discord.GuildFileLimit(ctx)
	if err != nil {
		return Result{Err: err}
	}
	inputLimit := s.inputLimit(guildLimit)

	discSem := semaphore.NewWeighted(int64(s.conf.DiscordParallelSends))
	tgSem := semaphore.NewWeighted(int64(s.conf.TgParallelSends))

	var (
		buffer      []byte
		pending     = map[int][]byte{}
		next        int
		totalParts  int
		allParts    []storage.PartInfo
		outstanding int
		open        = true
	)
	done := make(chan dispatched)

	dispatch := func(partNum int, data []byte) {
		outstanding++
		go func() {
			part, err := s.sendPart(ctx, job, partNum, data, guildLimit, discSem, tgSem)
			done <- dispatched{part: part, err: err}
		}()
	}
	// Abandoned dispatches still have a result to deliver, drain them so
	// they can exit.
	abandon := func() {
		for i := 0; i < outstanding; i++ {
			go func() { <-done }()
		}
	}

	for {
		// Drain whatever the handlers have queued, without blocking.
	drain:
		for open {
			select {
			case c, ok := <-chunks:
				if !ok {
					open = false
					break drain
				}
				pending[c.Index] = c.Data
			default:
				break drain
			}
		}

		// Append the ready in-order prefix.
		for {
			data, ok := pending[next]
			if !ok {
				break
			}
			buffer = append(buffer, data...)
			delete(pending, next)
			next++
		}

		// Cut and dispatch full parts.
		for int64(len(buffer)) >= inputLimit {
			part := make([]byte, inputLimit)
			copy(part, buffer[:inputLimit])
			buffer = buffer[inputLimit:]
			totalParts++
			dispatch(totalParts, part)
		}

		allIn := (next == job.TotalChunks && len(pending) == 0) || !open

		// Final short part once everything else is in flight or landed.
		if allIn && len(buffer) > 0 && outstanding == 0 {
			totalParts++
			dispatch(totalParts, buffer)
			buffer = nil
		}

		// Reap finished dispatches.
	reap:
		for outstanding > 0 {
			select {
			case r := <-done:
				outstanding--
				if r.err != nil {
					abandon()
					return Result{Err: r.err}
				}
				allParts = append(allParts, r.part)
			default:
				break reap
			}
		}

		if allIn && len(buffer) == 0 && outstanding == 0 {
			break
		}

		if outstanding > 0 {
			select {
			case <-time.After(dispatchPoll):
			case <-ctx.Done():
				abandon()
				return Result{Err: ctx.Err()}
			}
			continue
		}

		if !open {
			continue
		}
		// Idle: block until the next chunk or EOF.
		select {
		case c, ok := <-chunks:
			if !ok {
				open = false
				continue
			}
			pending[c.Index] = c.Data
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		}
	}

	sort.Slice(allParts, func(i, j int) bool { return allParts[i].Part < allParts[j].Part })

	res := Result{
		Method:    MethodDirect,
		Parts:     totalParts,
		PartsInfo: allParts,
	}
	if totalParts > 1 {
		if s.telegram != nil {
			res.Method = MethodDual
		} else {
			res.Method = MethodSplit
		}
	}
	for _, p := range allParts {
		res.MessageIDs = append(res.MessageIDs, p.MessageID)
		if p.JumpURL != "" {
			res.JumpURLs = append(res.JumpURLs, p.JumpURL)
		}
	}
	return res
}

// sendPart archives and ships one part. Odd parts go to Discord, even
// parts to Telegram when that backend is configured.
func (s *Sender) sendPart(ctx context.Context, job Job, partNum int, data []byte, guildLimit int64, discSem, tgSem *semaphore.Weighted) (storage.PartInfo, error) {
	caption := fmt.Sprintf("✂️ `%s` — Phần %d", job.Filename, partNum)
	if partNum == 1 && job.Message != "" {
		caption += "\n" + job.Message
	}
	entryName := fmt.Sprintf("%s.part%d", job.Filename, partNum)
	zipName := entryName + ".zip"

	if s.telegram != nil && partNum%2 == 0 {
		if err := tgSem.Acquire(ctx, 1); err != nil {
			return storage.PartInfo{}, err
		}
		defer tgSem.Release(1)

		packed, err := zippack.Pack(data, entryName, s.conf.ZipCompressLevel)
		if err != nil {
			return storage.PartInfo{}, err
		}
		msgID, fileID, err := s.telegram.SendDocument(ctx, packed, zipName, caption)
		if err != nil {
			return storage.PartInfo{}, err
		}
		return storage.PartInfo{
			Part:      partNum,
			Platform:  storage.PlatformTelegram,
			MessageID: msgID,
			FileID:    fileID,
		}, nil
	}

	if err := discSem.Acquire(ctx, 1); err != nil {
		return storage.PartInfo{}, err
	}
	defer discSem.Release(1)

	packed, err := zippack.Pack(data, entryName, s.conf.ZipCompressLevel)
	if err != nil {
		return storage.PartInfo{}, err
	}
	if int64(len(packed)) > guildLimit {
		return storage.PartInfo{}, errtypes.PermanentError(fmt.Sprintf(
			"part %d packs to %d bytes, over the guild limit %d, lower the client chunk size",
			partNum, len(packed), guildLimit))
	}

	var msgID int64
	var jumpURL string
	err = retry.Do(ctx, s.conf.DiscordSendRetries, s.conf.DiscordRetryBaseS, func() error {
		id, jump, err := s.discord.SendPart(ctx, job.ChannelID, packed, zipName, caption)
		if err != nil {
			s.log.Warn().Err(err).Str("session", job.SessionID).Int("part", partNum).
				Msg("upload: discord send failed")
			return err
		}
		msgID, jumpURL = id, jump
		return nil
	})
	if err != nil {
		return storage.PartInfo{}, err
	}
	return storage.PartInfo{
		Part:      partNum,
		Platform:  storage.PlatformDiscord,
		MessageID: msgID,
		ChannelID: job.ChannelID,
		JumpURL:   jumpURL,
	}, nil
}
