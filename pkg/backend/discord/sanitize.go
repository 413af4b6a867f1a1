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

package discord

import (
	"path/filepath"
	"strings"
)

const maxChannelName = 100

// SanitizeName turns an arbitrary filename into a valid Discord channel
// name: the extension is dropped, the stem is lowercased, anything outside
// [a-z0-9-_ ] is removed, spaces become dashes, dash runs collapse and the
// result is capped at 100 characters. An empty result falls back to "file".
// Names must come out identical to what older clients produced, or the
// ensure-or-create lookup would mint duplicate channels.
func SanitizeName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		// dotfiles have no separate extension
		stem = name
	}
	stem = strings.ToLower(stem)

	var b strings.Builder
	b.Grow(len(stem))
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		}
	}

	dashed := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "-")

	var out strings.Builder
	out.Grow(len(dashed))
	lastDash := false
	for _, r := range dashed {
		if r == '-' {
			if !lastDash {
				out.WriteByte('-')
			}
			lastDash = true
			continue
		}
		out.WriteRune(r)
		lastDash = false
	}

	trimmed := strings.Trim(out.String(), "-")
	if trimmed == "" {
		return "file"
	}
	if len(trimmed) > maxChannelName {
		trimmed = trimmed[:maxChannelName]
	}
	return trimmed
}
