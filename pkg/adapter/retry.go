// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"time"

	"github.com/cloudflare/backoff"
)

const (
	maxBackoffDuration = 1 * time.Minute
	backoffInterval    = 1 * time.Second
)

// RetryableLock retries fn (typically a call that attempts to acquire the
// ledger lock) with exponential backoff and jitter whenever isLockWait
// reports the returned error as "someone else holds this lock right now",
// rather than a real failure. This is how the engine tolerates contention
// from a second concurrent engine instance during MetadataTable.lock()
// (spec §5) without busy-looping.
func RetryableLock(ctx context.Context, isLockWait func(error) bool, fn func() error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !isLockWait(err) {
			return err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
