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

// Package config loads config.json and bot.env from the base directory.
// Every tunable is clamped to a fixed range: out-of-range values are logged
// and replaced by the default, a broken or missing config.json yields the
// full default configuration. Keys prefixed with "_" are comments.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ConfigFile is the name of the configuration file inside the base dir.
const ConfigFile = "config.json"

// EnvFile is the name of the credentials file inside the base dir.
const EnvFile = "bot.env"

type rawUpload struct {
	ClientChunkMB           *int64   `mapstructure:"client_chunk_mb"`
	ParallelChunks          *int     `mapstructure:"parallel_chunks"`
	DiscordSafeRatio        *float64 `mapstructure:"discord_safe_ratio"`
	ZipCompressLevel        *int     `mapstructure:"zip_compress_level"`
	DiscordParallelSends    *int     `mapstructure:"discord_parallel_sends"`
	TgParallelSends         *int     `mapstructure:"tg_parallel_sends"`
	DiscordSendRetries      *int     `mapstructure:"discord_send_retries"`
	DiscordRetryBaseDelayS  *int     `mapstructure:"discord_retry_base_delay_s"`
}

type rawDownload struct {
	HTTPTimeoutS         *int   `mapstructure:"http_timeout_s"`
	RetryCount           *int   `mapstructure:"retry_count"`
	RetryBaseDelayS      *int   `mapstructure:"retry_base_delay_s"`
	PartDelayMS          *int   `mapstructure:"part_delay_ms"`
	StreamBufferKB       *int   `mapstructure:"stream_buffer_kb"`
	LargeFileThresholdMB *int64 `mapstructure:"large_file_threshold_mb"`
}

type rawRAM struct {
	MaxTotalUploadMB  *int64 `mapstructure:"max_total_upload_mb"`
	SessionTTLMinutes *int   `mapstructure:"session_ttl_minutes"`
	GCIntervalMinutes *int   `mapstructure:"gc_interval_minutes"`
}

type rawServer struct {
	Host           *string `mapstructure:"host"`
	Port           *int    `mapstructure:"port"`
	LogLevel       *string `mapstructure:"log_level"`
	KeepAliveS     *int    `mapstructure:"keep_alive_s"`
	MaxConcurrency *int    `mapstructure:"max_concurrency"`
}

type rawData struct {
	HistoryFile  *string `mapstructure:"history_file"`
	FoldersFile  *string `mapstructure:"folders_file"`
	SessionsFile *string `mapstructure:"sessions_file"`
}

type rawTelegram struct {
	FileLimitMB *int64 `mapstructure:"file_limit_mb"`
}

type rawConfig struct {
	Upload   rawUpload   `mapstructure:"upload"`
	Download rawDownload `mapstructure:"download"`
	RAM      rawRAM      `mapstructure:"ram"`
	Server   rawServer   `mapstructure:"server"`
	Data     rawData     `mapstructure:"data"`
	Telegram rawTelegram `mapstructure:"telegram"`
}

// Config holds the validated runtime configuration with sizes in bytes and
// intervals as durations.
type Config struct {
	// Upload
	ClientChunkBytes     int64
	ParallelChunks       int
	DiscordSafeRatio     float64
	ZipCompressLevel     int
	DiscordParallelSends int
	TgParallelSends      int
	DiscordSendRetries   int
	DiscordRetryBaseS    int

	// Download
	HTTPTimeout          time.Duration
	DownloadRetry        int
	DownloadRetryBaseS   int
	PartDelay            time.Duration
	ReadBufferBytes      int
	LargeFileThresholdMB int64

	// RAM
	MaxUploadRAMBytes int64
	SessionTTL        time.Duration
	GCInterval        time.Duration

	// Server
	Host           string
	Port           int
	LogLevel       string
	KeepAlive      time.Duration
	MaxConcurrency int

	// Data files
	HistoryFile  string
	FoldersFile  string
	SessionsFile string

	// Telegram
	TgFileLimitBytes int64
}

// Load reads and validates config.json below baseDir. It never fails:
// unreadable or invalid files degrade to the defaults with a warning.
func Load(baseDir string, log *zerolog.Logger) *Config {
	var raw rawConfig

	path := filepath.Join(baseDir, ConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn().Str("path", path).Msg("config.json not found, using defaults")
	case err != nil:
		log.Warn().Err(err).Str("path", path).Msg("error reading config.json, using defaults")
	default:
		if err := decode(data, &raw); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("error parsing config.json, using defaults")
			raw = rawConfig{}
		}
	}

	return validate(&raw, log)
}

// decode parses the raw JSON, strips comment keys and maps the rest onto
// the raw sections. Unknown keys are tolerated.
func decode(data []byte, raw *rawConfig) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "config: invalid json")
	}
	stripCommentKeys(m)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           raw,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "config: error building decoder")
	}
	return dec.Decode(m)
}

func stripCommentKeys(m map[string]any) {
	for k, v := range m {
		if len(k) > 0 && k[0] == '_' {
			delete(m, k)
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			stripCommentKeys(sub)
		}
	}
}

func validate(r *rawConfig, log *zerolog.Logger) *Config {
	clampInt := func(name string, v *int, def, lo, hi int) int {
		if v == nil {
			return def
		}
		if *v < lo || *v > hi {
			log.Warn().Str("key", name).Int("value", *v).Int("min", lo).Int("max", hi).
				Msg("config value out of range, using default")
			return def
		}
		return *v
	}
	clampInt64 := func(name string, v *int64, def, lo, hi int64) int64 {
		if v == nil {
			return def
		}
		if *v < lo || *v > hi {
			log.Warn().Str("key", name).Int64("value", *v).Int64("min", lo).Int64("max", hi).
				Msg("config value out of range, using default")
			return def
		}
		return *v
	}
	str := func(v *string, def string) string {
		if v == nil || *v == "" {
			return def
		}
		return *v
	}

	safeRatio := 0.85
	if r.Upload.DiscordSafeRatio != nil {
		if *r.Upload.DiscordSafeRatio < 0.5 || *r.Upload.DiscordSafeRatio > 0.99 {
			log.Warn().Float64("value", *r.Upload.DiscordSafeRatio).
				Msg("discord_safe_ratio out of range [0.5,0.99], using default")
		} else {
			safeRatio = *r.Upload.DiscordSafeRatio
		}
	}

	logLevel := str(r.Server.LogLevel, "info")
	switch logLevel {
	case "debug", "info", "warning", "error", "critical":
	default:
		logLevel = "info"
	}

	largeFile := int64(500)
	if r.Download.LargeFileThresholdMB != nil {
		if *r.Download.LargeFileThresholdMB < 50 {
			log.Warn().Int64("value", *r.Download.LargeFileThresholdMB).
				Msg("large_file_threshold_mb below minimum 50, using default")
		} else {
			largeFile = *r.Download.LargeFileThresholdMB
		}
	}

	maxUploadMB := int64(512)
	if r.RAM.MaxTotalUploadMB != nil {
		maxUploadMB = *r.RAM.MaxTotalUploadMB
	}

	return &Config{
		ClientChunkBytes:     clampInt64("client_chunk_mb", r.Upload.ClientChunkMB, 4, 1, 50) * 1024 * 1024,
		ParallelChunks:       clampInt("parallel_chunks", r.Upload.ParallelChunks, 4, 1, 16),
		DiscordSafeRatio:     safeRatio,
		ZipCompressLevel:     clampInt("zip_compress_level", r.Upload.ZipCompressLevel, 0, 0, 9),
		DiscordParallelSends: clampInt("discord_parallel_sends", r.Upload.DiscordParallelSends, 3, 1, 5),
		TgParallelSends:      clampInt("tg_parallel_sends", r.Upload.TgParallelSends, 3, 1, 5),
		DiscordSendRetries:   clampInt("discord_send_retries", r.Upload.DiscordSendRetries, 3, 1, 10),
		DiscordRetryBaseS:    clampInt("discord_retry_base_delay_s", r.Upload.DiscordRetryBaseDelayS, 2, 1, 30),

		HTTPTimeout:          time.Duration(clampInt("http_timeout_s", r.Download.HTTPTimeoutS, 600, 30, 3600)) * time.Second,
		DownloadRetry:        clampInt("retry_count", r.Download.RetryCount, 3, 1, 10),
		DownloadRetryBaseS:   clampInt("retry_base_delay_s", r.Download.RetryBaseDelayS, 2, 1, 30),
		PartDelay:            time.Duration(clampInt("part_delay_ms", r.Download.PartDelayMS, 150, 0, 5000)) * time.Millisecond,
		ReadBufferBytes:      clampInt("stream_buffer_kb", r.Download.StreamBufferKB, 64, 8, 4096) * 1024,
		LargeFileThresholdMB: largeFile,

		MaxUploadRAMBytes: maxUploadMB * 1024 * 1024,
		SessionTTL:        time.Duration(clampInt("session_ttl_minutes", r.RAM.SessionTTLMinutes, 60, 5, 1440)) * time.Minute,
		GCInterval:        time.Duration(clampInt("gc_interval_minutes", r.RAM.GCIntervalMinutes, 10, 1, 120)) * time.Minute,

		Host:           str(r.Server.Host, "0.0.0.0"),
		Port:           clampInt("port", r.Server.Port, 8000, 1, 65535),
		LogLevel:       logLevel,
		KeepAlive:      time.Duration(clampInt("keep_alive_s", r.Server.KeepAliveS, 600, 10, 3600)) * time.Second,
		MaxConcurrency: clampInt("max_concurrency", r.Server.MaxConcurrency, 5, 1, 100),

		HistoryFile:  str(r.Data.HistoryFile, "file_history.json"),
		FoldersFile:  str(r.Data.FoldersFile, "folders.json"),
		SessionsFile: str(r.Data.SessionsFile, "upload_sessions.json"),

		TgFileLimitBytes: clampInt64("file_limit_mb", r.Telegram.FileLimitMB, 50, 10, 4000) * 1024 * 1024,
	}
}

// ChunkBodyLimit returns the request body cap for the chunk upload route:
// the client chunk size plus 20% headroom, at least 50 MiB.
func (c *Config) ChunkBodyLimit() int64 {
	limit := int64(float64(c.ClientChunkBytes) * 1.2)
	if min := int64(50 * 1024 * 1024); limit < min {
		limit = min
	}
	return limit
}

// LogSummary emits a one time overview of the effective configuration.
func (c *Config) LogSummary(log *zerolog.Logger) {
	log.Info().
		Int64("chunk_mb", c.ClientChunkBytes/1024/1024).
		Int("parallel_chunks", c.ParallelChunks).
		Float64("safe_ratio", c.DiscordSafeRatio).
		Int("zip_level", c.ZipCompressLevel).
		Msg("upload configuration")
	log.Info().
		Int("discord_parallel_sends", c.DiscordParallelSends).
		Int("tg_parallel_sends", c.TgParallelSends).
		Int("send_retries", c.DiscordSendRetries).
		Int64("tg_limit_mb", c.TgFileLimitBytes/1024/1024).
		Msg("backend configuration")
	log.Info().
		Dur("http_timeout", c.HTTPTimeout).
		Int("download_retry", c.DownloadRetry).
		Int("stream_buffer_kb", c.ReadBufferBytes/1024).
		Msg("download configuration")
	log.Info().
		Dur("session_ttl", c.SessionTTL).
		Dur("gc_interval", c.GCInterval).
		Str("addr", c.Host+":"+strconv.Itoa(c.Port)).
		Msg("server configuration")
}
