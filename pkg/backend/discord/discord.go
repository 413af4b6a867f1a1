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

// Package discord implements the primary blob backend on top of a Discord
// guild. Categories act as folders, text channels as per-file containers
// and message attachments as part storage.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const readyTimeout = 30 * time.Second

// Guild attachment caps by boost tier.
const (
	tier0FileLimit = 10 * 1024 * 1024
	tier2FileLimit = 50 * 1024 * 1024
	tier3FileLimit = 100 * 1024 * 1024
)

// DeleteFunc is invoked from the gateway when a channel or category is
// removed on the Discord side, so stale folders and history entries can be
// pruned.
type DeleteFunc func(id string, isCategory bool)

// Client is a Discord-backed blob store bound to a single guild.
type Client struct {
	session  *discordgo.Session
	guildID  string
	log      *zerolog.Logger
	onDelete DeleteFunc
}

var _ backend.Discord = (*Client)(nil)

// New creates a client for the given bot token and guild.
func New(token, guildID string, log *zerolog.Logger) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "discord: error creating session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return &Client{session: s, guildID: guildID, log: log}, nil
}

// HandleDeletes registers the callback invoked when Discord reports a
// deleted channel or category. Must be called before Open.
func (c *Client) HandleDeletes(fn DeleteFunc) {
	c.onDelete = fn
}

// Open connects the gateway and blocks until the bot reports ready, the
// context is cancelled or the ready timeout elapses.
func (c *Client) Open(ctx context.Context) error {
	ready := make(chan struct{})
	c.session.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.log.Info().Str("user", r.User.Username).Msg("discord: bot online")
		close(ready)
	})
	c.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		if c.onDelete == nil || e.Channel == nil || e.Channel.GuildID != c.guildID {
			return
		}
		isCategory := e.Channel.Type == discordgo.ChannelTypeGuildCategory
		c.log.Info().Str("channel", e.Channel.Name).Bool("category", isCategory).
			Msg("discord: channel deleted remotely")
		c.onDelete(e.Channel.ID, isCategory)
	})

	if err := c.session.Open(); err != nil {
		return errors.Wrap(err, "discord: error opening gateway")
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		_ = c.session.Close()
		return ctx.Err()
	case <-time.After(readyTimeout):
		_ = c.session.Close()
		return errors.New("discord: bot did not become ready, check DISCORD_TOKEN")
	}
}

// Close terminates the gateway connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// GuildFileLimit returns the hard attachment cap of the guild.
func (c *Client) GuildFileLimit(ctx context.Context) (int64, error) {
	guild, err := c.session.Guild(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, errors.Wrap(err, "discord: error fetching guild")
	}
	switch guild.PremiumTier {
	case discordgo.PremiumTier2:
		return tier2FileLimit, nil
	case discordgo.PremiumTier3:
		return tier3FileLimit, nil
	default:
		return tier0FileLimit, nil
	}
}

// EnsureCategory looks up the category with the sanitized name and creates
// it when missing.
func (c *Client) EnsureCategory(ctx context.Context, name string) (backend.Channel, error) {
	safe := SanitizeName(name)
	channels, err := c.session.GuildChannels(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return backend.Channel{}, errors.Wrap(err, "discord: error listing channels")
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && strings.ToLower(ch.Name) == safe {
			return backend.Channel{ID: ch.ID, Name: ch.Name}, nil
		}
	}

	ch, err := c.session.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
		Name: safe,
		Type: discordgo.ChannelTypeGuildCategory,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return backend.Channel{}, errors.Wrap(err, "discord: error creating category")
	}
	c.log.Info().Str("category", safe).Msg("discord: created category")
	return backend.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// EnsureChannel looks up the text channel with the sanitized name (below
// parentID when given) and creates it when missing.
func (c *Client) EnsureChannel(ctx context.Context, name, parentID string) (backend.Channel, error) {
	safe := SanitizeName(name)
	channels, err := c.session.GuildChannels(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return backend.Channel{}, errors.Wrap(err, "discord: error listing channels")
	}
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText || strings.ToLower(ch.Name) != safe {
			continue
		}
		if parentID != "" && ch.ParentID != parentID {
			continue
		}
		return backend.Channel{ID: ch.ID, Name: ch.Name}, nil
	}

	ch, err := c.session.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
		Name:     safe,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: parentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return backend.Channel{}, errors.Wrap(err, "discord: error creating channel")
	}
	c.log.Info().Str("channel", safe).Msg("discord: created channel")
	return backend.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// DeleteChannel removes a channel.
func (c *Client) DeleteChannel(ctx context.Context, id string) error {
	if _, err := c.session.ChannelDelete(id, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrap(err, "discord: error deleting channel")
	}
	return nil
}

// DeleteCategory removes a category if it has no child channels.
func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	channels, err := c.session.GuildChannels(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "discord: error listing channels")
	}
	for _, ch := range channels {
		if ch.ParentID == id {
			return nil
		}
	}
	if _, err := c.session.ChannelDelete(id, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrap(err, "discord: error deleting category")
	}
	return nil
}

// SendPart posts one archived part as an attachment and returns the
// message id and jump url.
func (c *Client) SendPart(ctx context.Context, channelID string, data []byte, name, caption string) (int64, string, error) {
	msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: "application/zip",
			Reader:      bytes.NewReader(data),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, "", errors.Wrap(err, "discord: error sending part")
	}

	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return 0, "", errors.Wrap(err, "discord: unexpected message id")
	}
	jump := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", c.guildID, channelID, msg.ID)
	return id, jump, nil
}

// AttachmentURL resolves the download url of the first attachment of the
// given message.
func (c *Client) AttachmentURL(ctx context.Context, channelID string, messageID int64) (string, error) {
	msg, err := c.session.ChannelMessage(channelID, strconv.FormatInt(messageID, 10), discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "discord: error fetching message")
	}
	if len(msg.Attachments) == 0 {
		return "", errtypes.NotFound(fmt.Sprintf("no attachment on message %d", messageID))
	}
	return msg.Attachments[0].URL, nil
}
