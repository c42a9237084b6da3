// Package backoff defines the reconnect delay sequence for the signaling transport.
package backoff

import "time"

// MaxDelaySec caps every reconnect delay.
const MaxDelaySec = 30

// Delay returns the wait before reconnect attempt k (k >= 1): min(30, 2^k - 1) seconds.
// The sequence is 1s, 3s, 7s, 15s, 30s, 30s, ...
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^5-1 already exceeds the cap, no need to shift further.
	if attempt >= 5 {
		return MaxDelaySec * time.Second
	}
	sec := (1 << attempt) - 1
	if sec > MaxDelaySec {
		sec = MaxDelaySec
	}
	return time.Duration(sec) * time.Second
}

// Sequence returns the delays for attempts 1..n, used to log the schedule. n < 1 yields none.
func Sequence(n int) []time.Duration {
	if n < 1 {
		return nil
	}
	out := make([]time.Duration, 0, n)
	for k := 1; k <= n; k++ {
		out = append(out, Delay(k))
	}
	return out
}
