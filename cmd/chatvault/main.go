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

// Chatvault serves a personal file store backed by Discord and Telegram.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/cs3org/chatvault/internal/http/services/chatvault"
	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/backend/discord"
	"github.com/cs3org/chatvault/pkg/backend/telegram"
	"github.com/cs3org/chatvault/pkg/config"
	"github.com/cs3org/chatvault/pkg/download"
	"github.com/cs3org/chatvault/pkg/httpclient"
	"github.com/cs3org/chatvault/pkg/logger"
	"github.com/cs3org/chatvault/pkg/storage"
	"github.com/cs3org/chatvault/pkg/thumbnail"
	"github.com/cs3org/chatvault/pkg/upload"
)

func main() {
	baseDir := flag.String("dir", ".", "base directory holding config, state and static files")
	flag.Parse()

	env, err := config.LoadEnv(*baseDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error loading environment:", err)
		os.Exit(1)
	}

	bootLog := logger.New(logger.WithLevel("info"), logger.WithWriter(os.Stderr, logger.ConsoleMode))
	conf := config.Load(*baseDir, bootLog)
	log := logger.New(logger.WithLevel(conf.LogLevel), logger.WithWriter(os.Stderr, logger.ConsoleMode))
	conf.LogSummary(log)

	disc, err := discord.New(env.DiscordToken, env.DiscordGuildID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating discord client")
	}

	store := storage.New(*baseDir, []string{conf.FoldersFile, conf.HistoryFile, conf.SessionsFile}, log)
	sessions := upload.NewSessions(store, conf.SessionsFile, log)
	registry := upload.NewRegistry()

	var tg backend.Telegram
	if env.TelegramEnabled() {
		tg = telegram.New(telegram.Config{
			Token:     env.TelegramToken,
			ChatID:    env.TelegramChatID,
			FileLimit: conf.TgFileLimitBytes,
			Retries:   conf.DiscordSendRetries,
			RetryBase: conf.DiscordRetryBaseS,
		}, httpclient.New(httpclient.Timeout(conf.HTTPTimeout)), log)
		log.Info().Msg("telegram backend enabled")
	} else {
		log.Info().Msg("telegram backend disabled, all parts go to discord")
	}

	sender := upload.NewSender(disc, tg, conf, log)
	streamer := download.NewStreamer(disc, tg, httpclient.New(httpclient.Timeout(conf.HTTPTimeout)), conf, log)
	thumbs := thumbnail.NewGenerator(streamer, *baseDir, log)

	svc := chatvault.New(chatvault.Options{
		BaseDir:  *baseDir,
		Conf:     conf,
		Discord:  disc,
		Store:    store,
		Sessions: sessions,
		Registry: registry,
		Sender:   sender,
		Streamer: streamer,
		Thumbs:   thumbs,
		Log:      log,
	})

	disc.HandleDeletes(svc.PruneRemote)
	openCtx, openCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := disc.Open(openCtx); err != nil {
		openCancel()
		log.Fatal().Err(err).Msg("discord bot did not come online")
	}
	openCancel()
	defer disc.Close()

	gcCtx, gcCancel := context.WithCancel(context.Background())
	defer gcCancel()
	gc := upload.NewGC(sessions, registry, conf.SessionTTL, conf.GCInterval, log)
	go gc.Run(gcCtx)

	root := chi.NewRouter()
	root.Mount("/api", svc.Handler())
	root.Handle("/*", http.FileServer(http.Dir(filepath.Join(*baseDir, "static"))))

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler(root)

	addr := fmt.Sprintf("%s:%d", conf.Host, conf.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		IdleTimeout: conf.KeepAlive,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		log.Fatal().Err(err).Msg("server failed")
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
