// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

// maxBackoffFactor caps the delay between attempts at 64 * baseBackoff.
const maxBackoffFactor = 64

// RetryWithBackoff calls op up to maxAttempts times. The pause before the
// second attempt is baseBackoff and doubles after each attempt, up to
// 64 * baseBackoff. The pause ends early when ctx is done.
//
// op returns (retry, err). A nil err ends the loop successfully; a non-nil
// err with retry false is returned at once. On exhaustion the last error is
// returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	delay := baseBackoff
	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := sleepContext(ctx, delay); err != nil {
				return fmt.Errorf("retry aborted after %d attempt(s): %w", attempt, err)
			}
			delay = min(delay*2, baseBackoff*maxBackoffFactor)
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

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
