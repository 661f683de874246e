package genjobs

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible for s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the job state machine so that stale
// deliveries can be told apart from progress. Unknown statuses rank
// lowest and never displace a known one.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// JobProjection is the read-only view of one backend generation run.
// The backend is the sole writer of authoritative state; instances held
// here are a cache reconciled from poll responses and push events.
type JobProjection struct {
	ID             string     `json:"id"`
	SurveyID       string     `json:"surveyId"`
	Status         Status     `json:"status"`
	TotalCount     int        `json:"totalCount"`
	GeneratedCount int        `json:"generatedCount"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Progress is derived on every read instead of stored, so it can never
// drift from the counts.
func (j JobProjection) Progress() float64 {
	if j.TotalCount <= 0 {
		return 0
	}
	return float64(j.GeneratedCount) / float64(j.TotalCount)
}
