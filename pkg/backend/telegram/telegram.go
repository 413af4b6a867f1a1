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

// Package telegram implements the secondary blob backend against the
// Telegram Bot API. Parts are sent as documents into a single chat and
// fetched back through getFile.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/cs3org/chatvault/pkg/backend"
	"github.com/cs3org/chatvault/pkg/errtypes"
	"github.com/cs3org/chatvault/pkg/httpclient"
	"github.com/cs3org/chatvault/pkg/retry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const apiBase = "https://api.telegram.org"

// Config carries the credentials and retry policy of the client.
type Config struct {
	Token     string
	ChatID    string
	FileLimit int64 // hard per-document cap in bytes
	Retries   int
	RetryBase int
}

// Client talks to the Telegram Bot API for one bot and one chat.
type Client struct {
	conf Config
	http *httpclient.Client
	log  *zerolog.Logger
	base string
}

var _ backend.Telegram = (*Client)(nil)

// New creates a Telegram client.
func New(conf Config, hc *httpclient.Client, log *zerolog.Logger) *Client {
	return &Client{conf: conf, http: hc, log: log, base: apiBase}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
		Document  struct {
			FileID string `json:"file_id"`
		} `json:"document"`
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// SendDocument uploads one archived part as a document. Parts over the
// configured file limit are rejected without touching the network, as no
// retry can make them fit. Transient API failures are retried with the
// configured backoff.
func (c *Client) SendDocument(ctx context.Context, data []byte, name, caption string) (int64, string, error) {
	if int64(len(data)) > c.conf.FileLimit {
		return 0, "", errtypes.PermanentError(
			fmt.Sprintf("telegram: part %s exceeds file limit (%d > %d bytes)", name, len(data), c.conf.FileLimit))
	}

	var messageID int64
	var fileID string
	err := retry.Do(ctx, c.conf.Retries, c.conf.RetryBase, func() error {
		id, fid, err := c.sendOnce(ctx, data, name, caption)
		if err != nil {
			c.log.Warn().Err(err).Str("part", name).Msg("telegram: send failed")
			return err
		}
		messageID, fileID = id, fid
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return messageID, fileID, nil
}

func (c *Client) sendOnce(ctx context.Context, data []byte, name, caption string) (int64, string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("chat_id", c.conf.ChatID); err != nil {
		return 0, "", errors.Wrap(err, "telegram: error writing form")
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return 0, "", errors.Wrap(err, "telegram: error writing form")
	}
	fw, err := mw.CreateFormFile("document", name)
	if err != nil {
		return 0, "", errors.Wrap(err, "telegram: error writing form")
	}
	if _, err := fw.Write(data); err != nil {
		return 0, "", errors.Wrap(err, "telegram: error writing form")
	}
	if err := mw.Close(); err != nil {
		return 0, "", errors.Wrap(err, "telegram: error writing form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendDocument"), body)
	if err != nil {
		return 0, "", errors.Wrap(err, "telegram: error creating request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.call(req)
	if err != nil {
		return 0, "", err
	}
	if res.Result.Document.FileID == "" {
		return 0, "", errors.New("telegram: response carries no document file_id")
	}
	return res.Result.MessageID, res.Result.Document.FileID, nil
}

// Download fetches a stored document by its file id: getFile resolves the
// server-side path, then the file endpoint serves the bytes.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("getFile")+"?file_id="+url.QueryEscape(fileID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: error creating request")
	}
	res, err := c.call(req)
	if err != nil {
		return nil, err
	}
	if res.Result.FilePath == "" {
		return nil, errors.New("telegram: getFile returned no file_path")
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", c.base, c.conf.Token, res.Result.FilePath)
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: error creating request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: error downloading file")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("telegram: file download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: error reading file body")
	}
	if len(data) == 0 {
		// The CDN occasionally serves an empty 200, the caller retries.
		return nil, errors.New("telegram: file download returned empty body")
	}
	return data, nil
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.base, c.conf.Token, method)
}

// call executes a Bot API request and decodes the envelope.
func (c *Client) call(req *http.Request) (*apiResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: error calling api")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: error reading response")
	}
	if len(data) == 0 {
		return nil, errors.New("telegram: api returned empty body")
	}

	var res apiResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, "telegram: error decoding response")
	}
	if !res.OK {
		return nil, errors.Errorf("telegram: api error: %s (status %d)", res.Description, resp.StatusCode)
	}
	return &res, nil
}
