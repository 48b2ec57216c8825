// Copyright 2025 Poiesic Systems
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


package ai

import (
	"context"
	"log/slog"
	"time"
)

// Backoff retries an operation with exponentially growing delays:
// BaseDelay before the second attempt, doubling after each failure.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger // nil uses slog.Default()
}

// Retry calls operation until it succeeds or MaxAttempts is reached, and
// returns the last error unchanged. attempt starts at 1. If ctx ends first,
// no further attempt starts and ctx.Err() is returned.
func (b Backoff) Retry(ctx context.Context, operation func(attempt int) error) error {
	if b.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	delay := b.BaseDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation(attempt)
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt == b.MaxAttempts {
			return lastErr
		}
		logger.Debug("operation failed, will retry",
			"attempt", attempt, "max_attempts", b.MaxAttempts, "delay", delay, "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
