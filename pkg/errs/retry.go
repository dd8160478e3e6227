// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Relaymesh Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errs

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
	retryFactor   = 2
	retryJitter   = 0.2
)

// Retry runs op, retrying transient failures up to three times with
// exponential backoff (200 ms base, factor 2, ±20% jitter). Any
// non-transient error, and a transient error that survives all
// attempts, is returned to the caller unchanged.
func Retry(ctx context.Context, op func() error) error {
	var err error
	delay := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(float64(delay) * (1 + retryJitter*(2*rand.Float64()-1)))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= retryFactor
		}
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}
