package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tankobon/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    label TEXT,
    payload_json TEXT,
    result_json TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 1,
    run_at TEXT NOT NULL,
    error_message TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON jobs(status, run_at);
`

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnqueueOption adjusts how a job is enqueued.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	maxAttempts int
	delay       time.Duration
}

// WithMaxAttempts sets the total attempt budget (initial run plus retries).
func WithMaxAttempts(attempts int) EnqueueOption {
	return func(o *enqueueOptions) {
		if attempts > 0 {
			o.maxAttempts = attempts
		}
	}
}

// WithDelay schedules the first attempt in the future.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// Enqueue inserts a new pending job. The payload is serialized as JSON.
func (s *Store) Enqueue(ctx context.Context, kind Kind, label string, payload any, opts ...EnqueueOption) (*Job, error) {
	options := enqueueOptions{maxAttempts: 1}
	for _, opt := range opts {
		opt(&options)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	runAt := now.Add(options.delay).Format(time.RFC3339Nano)
	jobID := uuid.NewString()

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            job_id, kind, status, label, payload_json, attempts, max_attempts,
            run_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		jobID,
		kind,
		StatusPending,
		nullableString(label),
		string(payloadJSON),
		options.maxAttempts,
		runAt,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// EnqueueBatch inserts a set of jobs of one kind as a single fan-out batch.
func (s *Store) EnqueueBatch(ctx context.Context, kind Kind, labels []string, payloads []any, opts ...EnqueueOption) ([]*Job, error) {
	if len(labels) != len(payloads) {
		return nil, errors.New("labels and payloads must have equal length")
	}
	jobs := make([]*Job, 0, len(payloads))
	for i, payload := range payloads {
		job, err := s.Enqueue(ctx, kind, labels[i], payload, opts...)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetByID fetches a job by row identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByJobID fetches a job by its public identifier.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by job id: %w", err)
	}
	return job, nil
}

// ClaimNext transitions the oldest runnable job to running and returns it.
// A job is runnable when pending or awaiting retry with run_at due.
// Returns nil when no job is due.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	nowStr := now.UTC().Format(time.RFC3339Nano)

	// Single-process claim: the UPDATE re-checks status so two workers
	// racing on the same row leave only one winner.
	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE status IN (?, ?) AND run_at <= ?
             ORDER BY created_at LIMIT 1`,
			StatusPending,
			StatusAwaitingRetry,
			nowStr,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next runnable job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusRunning,
			nowStr,
			job.ID,
			job.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			continue // lost the race, try the next candidate
		}
		return s.GetByID(ctx, job.ID)
	}
}

// Complete marks a job completed, storing an optional result document.
func (s *Store) Complete(ctx context.Context, job *Job, result any) error {
	resultJSON := ""
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = string(raw)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, result_json = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
		StatusCompleted,
		nullableString(resultJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	job.Status = StatusCompleted
	return nil
}

// Fail marks a job terminally failed.
func (s *Store) Fail(ctx context.Context, job *Job, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StatusFailed,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	job.Status = StatusFailed
	job.ErrorMsg = message
	return nil
}

// Retry schedules another attempt after delay, or fails the job terminally
// when the attempt budget is spent. Returns the resulting status.
func (s *Store) Retry(ctx context.Context, job *Job, cause error, delay time.Duration) (Status, error) {
	if job.RetriesExhausted() {
		if err := s.Fail(ctx, job, cause); err != nil {
			return "", err
		}
		return StatusFailed, nil
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		StatusAwaitingRetry,
		nullableString(message),
		now.Add(delay).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return "", fmt.Errorf("schedule retry: %w", err)
	}
	job.Status = StatusAwaitingRetry
	job.ErrorMsg = message
	return StatusAwaitingRetry, nil
}

// ResetStuckRunning returns jobs left in running state (e.g. after a crash)
// back to pending so they are picked up again.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// List returns jobs filtered by status set (or all jobs when none given).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ClearCompleted removes completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, job_id, kind, status, label, payload_json, result_json, attempts, max_attempts, run_at, error_message, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id          int64
		jobID       string
		kindStr     string
		statusStr   string
		label       sql.NullString
		payload     sql.NullString
		result      sql.NullString
		attempts    int
		maxAttempts int
		runAtRaw    sql.NullString
		errorMsg    sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&kindStr,
		&statusStr,
		&label,
		&payload,
		&result,
		&attempts,
		&maxAttempts,
		&runAtRaw,
		&errorMsg,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          id,
		JobID:       jobID,
		Kind:        Kind(kindStr),
		Status:      Status(statusStr),
		Label:       label.String,
		PayloadJSON: payload.String,
		ResultJSON:  result.String,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		ErrorMsg:    errorMsg.String,
	}
	if runAt, err := parseTimeString(runAtRaw.String); err == nil {
		job.RunAt = runAt
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// UnmarshalPayload decodes the job payload into target.
func (j *Job) UnmarshalPayload(target any) error {
	if j.PayloadJSON == "" {
		return errors.New("job has no payload")
	}
	if err := json.Unmarshal([]byte(j.PayloadJSON), target); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Kind, err)
	}
	return nil
}
