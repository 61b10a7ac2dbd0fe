package queue

// Status is the lifecycle state of a durable job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a job in this status has finished for good.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Valid reports whether the value is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// CanTransition is the job state machine: pending -> processing on claim,
// processing -> pending on reschedule, processing -> done/failed on
// completion, and terminal -> pending when an enqueue resets a finished job.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusPending || to == StatusDone || to == StatusFailed
	case StatusDone, StatusFailed:
		return to == StatusPending
	}
	return false
}
