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

// Package retry implements the exponential backoff used for all backend
// calls: the delay before retrying the zero-based attempt n is base^n
// seconds, computed with integer exponentiation. A base of 1 therefore
// degrades to a constant one second backoff.
package retry

import (
	"context"
	"time"

	"github.com/cs3org/chatvault/pkg/errtypes"
)

// Delay returns the backoff delay after the given zero-based attempt.
func Delay(base int, attempt int) time.Duration {
	if base < 1 {
		base = 1
	}
	d := 1
	for i := 0; i < attempt; i++ {
		d *= base
	}
	return time.Duration(d) * time.Second
}

// Do runs fn up to attempts times, sleeping Delay(base, n) between
// attempts. It stops early when fn succeeds, returns a permanent error or
// the context is cancelled.
func Do(ctx context.Context, attempts, base int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if _, ok := lastErr.(errtypes.IsPermanent); ok {
			return lastErr
		}
		if attempt < attempts-1 {
			select {
			case <-time.After(Delay(base, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
