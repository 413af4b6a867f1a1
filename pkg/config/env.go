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
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Env holds the backend credentials loaded from bot.env (or the process
// environment). Telegram is optional: the second backend is active only
// when both token and chat id are present.
type Env struct {
	DiscordToken   string
	DiscordGuildID string
	TelegramToken  string
	TelegramChatID string
}

// TelegramEnabled reports whether the Telegram backend is configured.
func (e *Env) TelegramEnabled() bool {
	return e.TelegramToken != "" && e.TelegramChatID != ""
}

// LoadEnv loads bot.env below baseDir into the process environment and
// returns the validated credentials. DISCORD_TOKEN and a numeric
// DISCORD_GUILD_ID are mandatory.
func LoadEnv(baseDir string) (*Env, error) {
	path := filepath.Join(baseDir, EnvFile)
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrap(err, "config: error loading "+path)
		}
	} else {
		// fall back to a .env next to the binary, if any
		_ = godotenv.Load()
	}

	e := &Env{
		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		DiscordGuildID: os.Getenv("DISCORD_GUILD_ID"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
	}

	if e.DiscordToken == "" {
		return nil, errors.New("config: DISCORD_TOKEN not set")
	}
	if e.DiscordGuildID == "" {
		return nil, errors.New("config: DISCORD_GUILD_ID not set")
	}
	if _, err := strconv.ParseUint(e.DiscordGuildID, 10, 64); err != nil {
		return nil, errors.New("config: DISCORD_GUILD_ID must be numeric")
	}
	return e, nil
}
