package domain

import "time"

type Status string

const (
	Pending     Status = "pending"
	Downloading Status = "downloading"
	Processing  Status = "processing"
	Uploading   Status = "uploading"
	Completed   Status = "completed"
	Failed      Status = "failed"
)

// statusRank orders the forward-only pipeline. Terminal states rank highest
// so nothing can move out of them.
var statusRank = map[Status]int{
	Pending:     0,
	Downloading: 1,
	Processing:  2,
	Uploading:   3,
	Completed:   4,
	Failed:      4,
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic forward ordering. Any non-terminal state may fail.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// TimeLayout matches the ISO-8601 timestamps the worker fleet already
// reads and writes (millisecond precision, UTC).
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Job is the durable record of one conversion. JSON tags are the wire
// contract with the worker fleet: the same names appear as hash fields
// under job:{id} and in the queued descriptor.
type Job struct {
	ID        string                 `json:"id"`
	Converter string                 `json:"converter"`
	InputKey  string                 `json:"inputKey"`
	OutputKey string                 `json:"outputKey"`
	Options   map[string]interface{} `json:"options,omitempty"`
	CreatedAt string                 `json:"createdAt"`
	Status    Status                 `json:"status"`
	Progress  int                    `json:"progress"`
	Error     string                 `json:"error,omitempty"`
}

func (j Job) Created() (time.Time, error) {
	if t, err := time.Parse(TimeLayout, j.CreatedAt); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, j.CreatedAt)
}
