package clock

import "time"

// Clock abstracts time for components whose behavior depends on TTLs and
// backoff schedules, so tests can advance time deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
