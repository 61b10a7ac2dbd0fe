package queue

import "time"

// backoffSchedule is the retry delay per attempt count. A lookup table
// rather than pure exponential growth: the early steps retry quickly while
// the upstream is usually just catching up, the later steps spread out to
// hours once something is genuinely wrong.
var backoffSchedule = []time.Duration{
	5 * time.Second,
	8 * time.Second,
	15 * time.Second,
	25 * time.Second,
	45 * time.Second,
	90 * time.Second,
	180 * time.Second,
	600 * time.Second,
	1800 * time.Second,
	7200 * time.Second,
}

// Backoff returns the delay before the next attempt, given how many
// attempts have already run. Attempt counts beyond the table cap at its
// last entry.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(backoffSchedule) {
		attempts = len(backoffSchedule)
	}
	return backoffSchedule[attempts-1]
}
