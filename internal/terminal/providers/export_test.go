package providers

import "time"

// SetPollInterval shrinks the poll delay so tests do not sleep for real.
// It returns a restore func for the previous value.
func SetPollInterval(d time.Duration) (restore func()) {
	prev := pollInterval
	pollInterval = d
	return func() { pollInterval = prev }
}
