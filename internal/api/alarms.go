package api

import "time"

// AlarmRetryState tracks a retryable task between attempts.
type AlarmRetryState struct {
	// Attempt counts the failed attempts so far.
	Attempt             int       `json:"attempt"`
	OriginalScheduledAt time.Time `json:"originalScheduledAt"`
	// Context labels the task, e.g. "auth-timeout" or "cleanup".
	Context   string `json:"context"`
	LastError string `json:"lastError,omitempty"`
}

// AlarmDeadLetterEntry records a task that exhausted its retries.
// Entries are immutable once written.
type AlarmDeadLetterEntry struct {
	ID                  string    `json:"id"`
	OriginalScheduledAt time.Time `json:"originalScheduledAt"`
	DeadLetteredAt      time.Time `json:"deadLetteredAt"`
	Attempts            int       `json:"attempts"`
	FinalError          string    `json:"finalError"`
	Context             string    `json:"context"`
	Stack               string    `json:"stack,omitempty"`
}
