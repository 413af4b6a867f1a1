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

package chatvault

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cs3org/chatvault/pkg/config"
	"github.com/google/renameio/v2"
)

// handleGetSettings returns the raw config document and env entries so the
// UI can edit them in place.
func (s *svc) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := map[string]any{}
	if data, err := os.ReadFile(filepath.Join(s.baseDir, config.ConfigFile)); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			cfg = map[string]any{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config": cfg,
		"env":    readEnvFile(filepath.Join(s.baseDir, config.EnvFile)),
	})
}

// handleSaveSettings writes the posted config and env back to disk. Changes
// take effect on the next start.
func (s *svc) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Config json.RawMessage   `json:"config"`
		Env    map[string]string `json:"env"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var failures []string
	if len(body.Config) > 0 {
		var pretty any
		if err := json.Unmarshal(body.Config, &pretty); err != nil {
			failures = append(failures, "config.json: "+err.Error())
		} else {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			if err := renameio.WriteFile(filepath.Join(s.baseDir, config.ConfigFile), data, 0644); err != nil {
				failures = append(failures, "config.json: "+err.Error())
			}
		}
	}
	if body.Env != nil {
		var b strings.Builder
		for k, v := range body.Env {
			fmt.Fprintf(&b, "%s=%s\n", k, v)
		}
		if err := renameio.WriteFile(filepath.Join(s.baseDir, config.EnvFile), []byte(b.String()), 0600); err != nil {
			failures = append(failures, "bot.env: "+err.Error())
		}
	}

	if len(failures) > 0 {
		writeDetail(w, http.StatusInternalServerError, strings.Join(failures, "; "))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Đã lưu. Restart app để áp dụng.",
	})
}

// readEnvFile parses KEY=VALUE lines, skipping blanks and # comments.
func readEnvFile(path string) map[string]string {
	env := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return env
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			env[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return env
}
