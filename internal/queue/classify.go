package queue

import (
	"errors"
	"net/http"
)

// Outcome classifies a processing failure.
type Outcome int

const (
	// OutcomeTransient reschedules the job with backoff.
	OutcomeTransient Outcome = iota
	// OutcomePermanent fails the job immediately.
	OutcomePermanent
)

// ErrRetry lets a handler request a plain reschedule without wrapping an
// upstream status code, e.g. "the customer is not linked yet, ask again
// later".
var ErrRetry = errors.New("retry later")

// StatusCoder is implemented by upstream client errors that carry an HTTP
// status code.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps a processing error to retry-or-fail. Auth failures are
// permanent: retrying with the same credentials cannot succeed. Throttling,
// conflicts and server errors are transient. Anything unrecognized defaults
// to transient and is bounded by the runner's attempt budget.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeTransient
	}
	if errors.Is(err, ErrRetry) {
		return OutcomeTransient
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		code := coder.StatusCode()
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return OutcomePermanent
		case code == http.StatusRequestTimeout,
			code == http.StatusConflict,
			code == http.StatusTooEarly,
			code == http.StatusTooManyRequests:
			return OutcomeTransient
		case code >= 500:
			return OutcomeTransient
		}
	}
	return OutcomeTransient
}
