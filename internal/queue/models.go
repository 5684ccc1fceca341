package queue

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle of a queued job.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusAwaitingRetry Status = "awaiting_retry"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusAwaitingRetry,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Kind identifies the handler a job is dispatched to.
type Kind string

const (
	KindDiscovery       Kind = "discovery"
	KindDownload        Kind = "download"
	KindRefreshMetadata Kind = "refresh_metadata"
	KindRefreshCover    Kind = "refresh_cover"
	KindBulkAdd         Kind = "bulk_add"
)

// Job is one unit of queued work persisted in SQLite.
type Job struct {
	ID          int64
	JobID       string
	Kind        Kind
	Status      Status
	Label       string
	PayloadJSON string
	ResultJSON  string
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	ErrorMsg    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RetriesExhausted reports whether another attempt is allowed.
func (j *Job) RetriesExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// terminalError marks a handler failure that must not be retried.
type terminalError struct {
	err error
}

func (t terminalError) Error() string { return t.err.Error() }

func (t terminalError) Unwrap() error { return t.err }

// Terminal wraps err so the worker fails the job immediately instead of
// scheduling a retry. Used for malformed-success outcomes where retrying
// cannot help.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err was wrapped with Terminal.
func IsTerminal(err error) bool {
	var t terminalError
	return errors.As(err, &t)
}
