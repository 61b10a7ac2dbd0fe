package queue

import (
	"errors"
	"fmt"
	"testing"
)

type upstreamError struct {
	code int
}

func (e *upstreamError) Error() string   { return fmt.Sprintf("upstream status %d", e.code) }
func (e *upstreamError) StatusCode() int { return e.code }

func TestClassifyPermanent(t *testing.T) {
	for _, code := range []int{401, 403} {
		if Classify(&upstreamError{code: code}) != OutcomePermanent {
			t.Fatalf("expected %d permanent", code)
		}
	}
}

func TestClassifyTransient(t *testing.T) {
	for _, code := range []int{408, 409, 425, 429, 500, 502, 503} {
		if Classify(&upstreamError{code: code}) != OutcomeTransient {
			t.Fatalf("expected %d transient", code)
		}
	}
}

func TestClassifyUnknownDefaultsTransient(t *testing.T) {
	if Classify(errors.New("something odd")) != OutcomeTransient {
		t.Fatalf("expected unknown errors transient")
	}
	if Classify(&upstreamError{code: 404}) != OutcomeTransient {
		t.Fatalf("expected unlisted status transient")
	}
}

func TestClassifyWrappedStatusCoder(t *testing.T) {
	err := fmt.Errorf("processing: %w", &upstreamError{code: 403})
	if Classify(err) != OutcomePermanent {
		t.Fatalf("expected wrapped 403 permanent")
	}
}

func TestClassifyErrRetry(t *testing.T) {
	if Classify(fmt.Errorf("customer not linked: %w", ErrRetry)) != OutcomeTransient {
		t.Fatalf("expected ErrRetry transient")
	}
}
