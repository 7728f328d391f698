package pipeline

import "time"

// Status is the outcome of one ProcessQuery call.
type Status string

const (
	StatusOK              Status = "ok"
	StatusNoResults       Status = "no_results"
	StatusPartialFailure  Status = "partial_failure"
	StatusRepeatedFailure Status = "repeated_failure"
	StatusFailed          Status = "failed"
	StatusCoolingDown     Status = "cooling_down"
)

// NotifySummary reports one fan-out pass. Sent and failed count trends, not
// messages.
type NotifySummary struct {
	SentCount          int    `json:"sent_count"`
	FailedCount        int    `json:"failed_count"`
	TotalSubscriptions int    `json:"total_subscriptions"`
	Error              string `json:"error,omitempty"`
}

// Failed reports whether any part of the pass went wrong.
func (s NotifySummary) Failed() bool {
	return s.FailedCount > 0 || s.Error != ""
}

// Result is returned by ProcessQuery.
type Result struct {
	Status     Status        `json:"status"`
	Topic      string        `json:"topic"`
	Ingested   int           `json:"ingested_count"`
	Duplicates int           `json:"duplicate_count"`
	Invalid    int           `json:"invalid_count"`
	Persisted  int           `json:"persisted_count"`
	Notify     NotifySummary `json:"notify_summary"`
	Error      string        `json:"error,omitempty"`
}

// CycleSummary aggregates one background cycle.
type CycleSummary struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Topics    int            `json:"topics"`
	Persisted int            `json:"persisted"`
	ByStatus  map[Status]int `json:"by_status"`
	Results   []Result       `json:"results"`
	Error     string         `json:"error,omitempty"`
}

func (s *CycleSummary) add(r Result) {
	if s.ByStatus == nil {
		s.ByStatus = make(map[Status]int)
	}
	s.ByStatus[r.Status]++
	s.Persisted += r.Persisted
	s.Results = append(s.Results, r)
}
