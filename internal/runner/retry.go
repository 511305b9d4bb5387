// Copyright 2025 Tom Barlow
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

package runner

import "github.com/fathomhq/agentrun/internal/model"

const minRetryDelayMS = 100

// retryDelayMS computes the exponential backoff delay for the given
// dispatch attempt count (already incremented once per dispatch), saturating
// rather than overflowing and never going below minRetryDelayMS.
func retryDelayMS(retryBackoffMS, attempts int) int64 {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 62 {
		shift = 62
	}

	delay := int64(retryBackoffMS) << uint(shift)
	if delay <= 0 || delay < int64(retryBackoffMS) {
		// overflowed (or backoff itself was zero/negative): saturate high.
		delay = int64(1) << 62
	}
	if delay < minRetryDelayMS {
		delay = minRetryDelayMS
	}
	return delay
}

// shouldRetry reports whether a non-interactive failure is eligible for
// another attempt: attempts is incremented exactly once per dispatch, so the
// condition is attempts <= max_retries with max_retries > 0.
func shouldRetry(mode model.RunMode, attempts, maxRetries int) bool {
	if mode == model.ModeInteractive {
		return false
	}
	return maxRetries > 0 && attempts <= maxRetries
}
