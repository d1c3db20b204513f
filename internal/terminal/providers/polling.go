package providers

import (
	"context"
	"time"
)

// pollInterval is the fixed delay between status polls for cloud vendors
// that model payment as asynchronous. A variable so tests can shrink it.
var pollInterval = 1 * time.Second

// errPollExhausted signals to the caller that the attempt ceiling was hit
// without observing a terminal status. It is converted to a Timeout result,
// never surfaced as an error.
type pollExhausted struct{ attempts int }

func (e pollExhausted) Error() string { return "status polling exhausted" }

// pollStatus invokes check once per interval until it reports done, the
// attempt ceiling is reached, or the context expires. The loop is always
// attempt-bounded; cancellation is a deadline check at each iteration.
func pollStatus(ctx context.Context, maxAttempts int, check func(ctx context.Context) (done bool, err error)) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return pollExhausted{attempts: maxAttempts}
}
