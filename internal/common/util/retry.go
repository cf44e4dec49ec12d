package util

import (
	"context"
)

// RetryUntilSuccess repeatedly calls performAction until it succeeds or ctx
// is cancelled. onError is invoked after every failed attempt and is the
// place to log and back off.
func RetryUntilSuccess(ctx context.Context, performAction func() error, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := performAction()
			if err == nil {
				return
			}
			onError(err)
		}
	}
}
