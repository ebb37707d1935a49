package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"northpole/internal/models"
)

// SQLiteRepository implements JobRepository and EntityRepository on a
// single SQLite database. The claim transaction relies on the
// _txlock=immediate DSN option: every claimant takes the write lock up
// front, so two workers can never select the same candidate row.
type SQLiteRepository struct {
	db           *sql.DB
	retryBackoff func(attempts int) time.Duration
}

// Option customizes a SQLiteRepository.
type Option func(*SQLiteRepository)

// WithRetryBackoff overrides the delay applied to scheduled_for when a
// failed job is requeued.
func WithRetryBackoff(fn func(attempts int) time.Duration) Option {
	return func(r *SQLiteRepository) { r.retryBackoff = fn }
}

// defaultRetryBackoff doubles per attempt starting at 30s, capped at 10m.
func defaultRetryBackoff(attempts int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return d
}

// NewSQLiteRepository opens (creating if needed) the database at path.
func NewSQLiteRepository(path string, opts ...Option) (*SQLiteRepository, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, retryBackoff: defaultRetryBackoff}
	for _, opt := range opts {
		opt(repo)
	}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		scheduled_for INTEGER NOT NULL,
		lease_expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, scheduled_for, priority);
	CREATE INDEX IF NOT EXISTS idx_jobs_task_type ON jobs(task_type);

	CREATE TABLE IF NOT EXISTS families (
		id TEXT PRIMARY KEY,
		name TEXT,
		language TEXT NOT NULL DEFAULT 'en',
		moderation_strictness TEXT NOT NULL DEFAULT 'medium',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		email_hash TEXT NOT NULL,
		country TEXT,
		birth_year INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_children_email_hash ON children(email_hash);

	CREATE TABLE IF NOT EXISTS letters (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		subject TEXT,
		body_text TEXT NOT NULL,
		body_html TEXT,
		received_at INTEGER NOT NULL,
		message_id TEXT UNIQUE,
		from_email TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		processed_at INTEGER,
		error_message TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_letters_child ON letters(child_id);

	CREATE TABLE IF NOT EXISTS wish_items (
		id TEXT PRIMARY KEY,
		letter_id TEXT NOT NULL REFERENCES letters(id) ON DELETE CASCADE,
		raw_text TEXT NOT NULL,
		normalized_name TEXT,
		category TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		denial_reason TEXT,
		estimated_price REAL,
		currency TEXT,
		product_url TEXT,
		product_image_url TEXT,
		product_description TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wish_items_letter ON wish_items(letter_id);

	CREATE TABLE IF NOT EXISTS moderation_flags (
		id TEXT PRIMARY KEY,
		letter_id TEXT NOT NULL REFERENCES letters(id) ON DELETE CASCADE,
		flag_type TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		excerpt TEXT,
		ai_confidence REAL,
		ai_explanation TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_moderation_flags_letter ON moderation_flags(letter_id);

	CREATE TABLE IF NOT EXISTS santa_replies (
		id TEXT PRIMARY KEY,
		letter_id TEXT NOT NULL UNIQUE REFERENCES letters(id) ON DELETE CASCADE,
		body_text TEXT NOT NULL,
		body_html TEXT,
		suggested_deed TEXT,
		delivery_status TEXT NOT NULL DEFAULT 'pending',
		delivery_error TEXT,
		sent_at INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS good_deeds (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		description TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER,
		suggested_in_reply_id TEXT,
		acknowledged_in_reply_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_good_deeds_child ON good_deeds(child_id);

	CREATE TABLE IF NOT EXISTS sent_emails (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL,
		email_type TEXT NOT NULL,
		subject TEXT NOT NULL,
		body_text TEXT NOT NULL,
		letter_id TEXT,
		santa_reply_id TEXT,
		deed_id TEXT,
		delivery_status TEXT NOT NULL,
		block_reason TEXT,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sent_emails_child ON sent_emails(child_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT,
		read INTEGER NOT NULL DEFAULT 0,
		related_letter_id TEXT,
		related_child_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_family ON notifications(family_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

const jobColumns = `id, task_type, payload, status, priority, attempts, max_attempts,
	       error_message, created_at, started_at, completed_at, scheduled_for, lease_expires_at`

// EnqueueJob inserts a new pending job
func (r *SQLiteRepository) EnqueueJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}
	job.Status = models.JobPending

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO jobs (id, task_type, payload, status, priority, attempts, max_attempts, created_at, scheduled_for)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.TaskType, string(payload), job.Status, job.Priority,
		job.Attempts, job.MaxAttempts, job.CreatedAt.Unix(), job.ScheduledFor.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimNextJob claims the next eligible job within one transaction
func (r *SQLiteRepository) ClaimNextJob(ctx context.Context, leaseDuration time.Duration) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	// Eligible rows: pending and due, or processing with an expired lease
	// (left behind by a crashed worker). Priority first, FIFO within a
	// priority band via insertion order.
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE ((status = 'pending' AND scheduled_for <= ?)
		   OR (status = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))
		  AND attempts < max_attempts
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT 1
	`
	row := tx.QueryRowContext(ctx, query, now.Unix(), now.Unix())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find claimable job: %w", err)
	}

	leaseExpires := now.Add(leaseDuration)
	update := `
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    started_at = ?,
		    lease_expires_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update, now.Unix(), leaseExpires.Unix(), job.ID); err != nil {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = models.JobProcessing
	job.Attempts++
	job.StartedAt = &now
	job.LeaseExpiresAt = &leaseExpires
	return job, nil
}

// CompleteJob finishes an attempt: terminal completed on success, requeue
// with backoff or terminal failed on failure.
func (r *SQLiteRepository) CompleteJob(ctx context.Context, job *models.Job, success bool, errMsg string) error {
	now := time.Now()

	if success {
		query := `
			UPDATE jobs
			SET status = 'completed', completed_at = ?, lease_expires_at = NULL
			WHERE id = ?
		`
		if _, err := r.db.ExecContext(ctx, query, now.Unix(), job.ID); err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		job.Status = models.JobCompleted
		job.CompletedAt = &now
		return nil
	}

	if job.Attempts >= job.MaxAttempts {
		query := `
			UPDATE jobs
			SET status = 'failed', error_message = ?, completed_at = ?, lease_expires_at = NULL
			WHERE id = ?
		`
		if _, err := r.db.ExecContext(ctx, query, errMsg, now.Unix(), job.ID); err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		job.Status = models.JobFailed
		job.ErrorMessage = errMsg
		job.CompletedAt = &now
		return nil
	}

	// Attempts remain: requeue with scheduled_for pushed forward so a
	// persistent outage does not cause a hot retry loop.
	next := now.Add(r.retryBackoff(job.Attempts))
	query := `
		UPDATE jobs
		SET status = 'pending', error_message = ?, scheduled_for = ?, lease_expires_at = NULL
		WHERE id = ?
	`
	if _, err := r.db.ExecContext(ctx, query, errMsg, next.Unix(), job.ID); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	job.Status = models.JobPending
	job.ErrorMessage = errMsg
	job.ScheduledFor = next
	return nil
}

// FailJobTerminal forces a job to failed regardless of remaining attempts
func (r *SQLiteRepository) FailJobTerminal(ctx context.Context, job *models.Job, errMsg string) error {
	now := time.Now()
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = ?, attempts = max_attempts,
		    completed_at = ?, lease_expires_at = NULL
		WHERE id = ?
	`
	if _, err := r.db.ExecContext(ctx, query, errMsg, now.Unix(), job.ID); err != nil {
		return fmt.Errorf("failed to terminally fail job: %w", err)
	}
	job.Status = models.JobFailed
	job.ErrorMessage = errMsg
	job.Attempts = job.MaxAttempts
	job.CompletedAt = &now
	return nil
}

// HasActiveJob reports whether a job of this task type is pending or processing
func (r *SQLiteRepository) HasActiveJob(ctx context.Context, taskType string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM jobs
			WHERE task_type = ? AND status IN ('pending', 'processing')
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, taskType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active jobs: %w", err)
	}
	return exists, nil
}

// GetJobByID retrieves a job by ID, or (nil, nil) when absent
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobsByStatus retrieves all jobs with a specific status
func (r *SQLiteRepository) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var payload string
	var errMsg sql.NullString
	var createdAt, scheduledFor int64
	var startedAt, completedAt, leaseExpiresAt sql.NullInt64

	err := row.Scan(
		&job.ID, &job.TaskType, &payload, &job.Status, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &errMsg,
		&createdAt, &startedAt, &completedAt, &scheduledFor, &leaseExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if payload != "" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	job.ErrorMessage = errMsg.String
	job.CreatedAt = time.Unix(createdAt, 0)
	job.ScheduledFor = time.Unix(scheduledFor, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}
	if leaseExpiresAt.Valid {
		t := time.Unix(leaseExpiresAt.Int64, 0)
		job.LeaseExpiresAt = &t
	}
	return &job, nil
}
