// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetryAttempts is how often transient engine failures are attempted.
const DefaultRetryAttempts = 3

// RetryWithBackoff runs op up to maxAttempts times, sleeping baseBackoff,
// 2*baseBackoff, 4*baseBackoff... between attempts. The sleep is cut short
// when ctx is cancelled.
//
// op returns (retry, err). A nil err ends the loop successfully; a non-nil err
// with retry false is returned immediately. After the last attempt the last
// error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range max(maxAttempts, 1) {
		if attempt > 0 {
			timer := time.NewTimer(baseBackoff << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempt(s): %w", attempt, ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}
