package feed

import "time"

const (
	offlineAfterFailures = 4
	maxBackoff           = 20 * time.Second
)

// DefaultBackoff waits 2s plus 3s per consecutive failure, capped at 20s.
func DefaultBackoff(failures int) time.Duration {
	d := 2*time.Second + time.Duration(failures)*3*time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func watchdogPeriod(stale time.Duration) time.Duration {
	period := 5 * time.Second
	if half := stale / 2; half < period {
		period = half
	}
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return period
}
