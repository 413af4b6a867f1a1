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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nop = zerolog.Nop()

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	c := Load(t.TempDir(), &nop)

	assert.Equal(t, int64(4*1024*1024), c.ClientChunkBytes)
	assert.Equal(t, 4, c.ParallelChunks)
	assert.Equal(t, 0.85, c.DiscordSafeRatio)
	assert.Equal(t, 0, c.ZipCompressLevel)
	assert.Equal(t, 3, c.DiscordSendRetries)
	assert.Equal(t, 2, c.DiscordRetryBaseS)
	assert.Equal(t, int64(50*1024*1024), c.TgFileLimitBytes)
	assert.Equal(t, time.Hour, c.SessionTTL)
	assert.Equal(t, 10*time.Minute, c.GCInterval)
	assert.Equal(t, "file_history.json", c.HistoryFile)
	assert.Equal(t, "folders.json", c.FoldersFile)
	assert.Equal(t, "upload_sessions.json", c.SessionsFile)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadAppliesValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"upload":   {"client_chunk_mb": 8, "zip_compress_level": 6, "discord_safe_ratio": 0.9},
		"download": {"stream_buffer_kb": 128, "part_delay_ms": 0},
		"ram":      {"session_ttl_minutes": 30},
		"telegram": {"file_limit_mb": 2000}
	}`)
	c := Load(dir, &nop)

	assert.Equal(t, int64(8*1024*1024), c.ClientChunkBytes)
	assert.Equal(t, 6, c.ZipCompressLevel)
	assert.Equal(t, 0.9, c.DiscordSafeRatio)
	assert.Equal(t, 128*1024, c.ReadBufferBytes)
	assert.Equal(t, time.Duration(0), c.PartDelay)
	assert.Equal(t, 30*time.Minute, c.SessionTTL)
	assert.Equal(t, int64(2000*1024*1024), c.TgFileLimitBytes)
}

func TestLoadClampsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"upload":   {"client_chunk_mb": 100, "discord_safe_ratio": 0.3, "discord_parallel_sends": 9},
		"ram":      {"gc_interval_minutes": 0},
		"telegram": {"file_limit_mb": 5}
	}`)
	c := Load(dir, &nop)

	assert.Equal(t, int64(4*1024*1024), c.ClientChunkBytes)
	assert.Equal(t, 0.85, c.DiscordSafeRatio)
	assert.Equal(t, 3, c.DiscordParallelSends)
	assert.Equal(t, 10*time.Minute, c.GCInterval)
	assert.Equal(t, int64(50*1024*1024), c.TgFileLimitBytes)
}

func TestLoadStripsCommentKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"_comment": "upload tuning",
		"upload": {"_note": {"nested": true}, "client_chunk_mb": 2}
	}`)
	c := Load(dir, &nop)
	assert.Equal(t, int64(2*1024*1024), c.ClientChunkBytes)
}

func TestLoadBrokenJSONFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"upload": `)
	c := Load(dir, &nop)
	assert.Equal(t, int64(4*1024*1024), c.ClientChunkBytes)
}

func TestChunkBodyLimit(t *testing.T) {
	c := &Config{ClientChunkBytes: 4 * 1024 * 1024}
	assert.Equal(t, int64(50*1024*1024), c.ChunkBodyLimit())

	c.ClientChunkBytes = 50 * 1024 * 1024
	assert.Equal(t, int64(60*1024*1024), c.ChunkBodyLimit())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	env := "# credentials\nDISCORD_TOKEN=tok\nDISCORD_GUILD_ID=123456\nTELEGRAM_TOKEN=tg\nTELEGRAM_CHAT_ID=42\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), []byte(env), 0600))
	unsetEnv(t, "DISCORD_TOKEN", "DISCORD_GUILD_ID", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID")

	e, err := LoadEnv(dir)
	require.NoError(t, err)
	assert.Equal(t, "tok", e.DiscordToken)
	assert.Equal(t, "123456", e.DiscordGuildID)
	assert.True(t, e.TelegramEnabled())
}

func TestLoadEnvRequiresGuildID(t *testing.T) {
	dir := t.TempDir()
	env := "DISCORD_TOKEN=tok\nDISCORD_GUILD_ID=not-a-number\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), []byte(env), 0600))
	unsetEnv(t, "DISCORD_TOKEN", "DISCORD_GUILD_ID")

	_, err := LoadEnv(dir)
	assert.Error(t, err)
}

// unsetEnv removes variables for the duration of the test so that values
// from bot.env are not shadowed by the test environment.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}
