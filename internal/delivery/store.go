// Package delivery implements the newsletter delivery pipeline: the
// transactional issue/queue store, the background worker that drains it,
// and the retention sweeper.
package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Issue is the immutable content of a published newsletter issue.
type Issue struct {
	ID          uuid.UUID
	Title       string
	TextContent string
	HTMLContent string
}

// Task is one pending (issue, recipient) delivery.
type Task struct {
	IssueID    uuid.UUID
	Recipient  string
	RetryCount int
}

// Store provides database operations for newsletter issues and the
// per-recipient delivery queue.
type Store struct {
	db *sql.DB
}

// NewStore creates a new delivery store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertIssue stores one immutable newsletter_issues row on the caller's
// transaction and returns the generated issue ID.
func (s *Store) InsertIssue(ctx context.Context, tx *sql.Tx, title, textContent, htmlContent string) (uuid.UUID, error) {
	issueID := uuid.New()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO newsletter_issues (id, title, text_content, html_content, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, issueID, title, textContent, htmlContent)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store newsletter issue: %w", err)
	}
	return issueID, nil
}

// EnqueueDeliveryTasks fans the issue out to every user who is both
// activated and subscribed at this moment, one queue row per recipient, on
// the caller's transaction. Later sign-ups are not retroactively included.
func (s *Store) EnqueueDeliveryTasks(ctx context.Context, tx *sql.Tx, issueID uuid.UUID) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO issue_delivery_queue (newsletter_issue_id, user_email, retry_count, execute_after)
		SELECT $1, email, 0, NOW()
		FROM users
		WHERE is_activated = true AND is_subscribed = true
	`, issueID)
	if err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	enqueued, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	return enqueued, nil
}

// DequeueTask opens a fresh transaction and locks one eligible task,
// skipping rows already locked by concurrent workers so two loops never
// block on (or double-process) the same task. On empty queue it returns
// (nil, nil, nil). Otherwise the open transaction is returned and owned by
// the caller, which must commit or roll back after acting on the task —
// the row lock is held until then.
func (s *Store) DequeueTask(ctx context.Context) (*sql.Tx, *Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin dequeue transaction: %w", err)
	}

	task := &Task{}
	err = tx.QueryRowContext(ctx, `
		SELECT newsletter_issue_id, user_email, retry_count
		FROM issue_delivery_queue
		WHERE execute_after <= NOW()
		ORDER BY execute_after ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&task.IssueID, &task.Recipient, &task.RetryCount)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("dequeue delivery task: %w", err)
	}

	return tx, task, nil
}

// RescheduleTask bumps the retry count and pushes the task's eligibility
// forward by delay from now, on the caller's (dequeue) transaction.
func (s *Store) RescheduleTask(ctx context.Context, tx *sql.Tx, issueID uuid.UUID, recipient string, newRetryCount int, delay time.Duration) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE issue_delivery_queue
		SET retry_count = $3,
		    execute_after = NOW() + $4 * INTERVAL '1 second'
		WHERE newsletter_issue_id = $1
		  AND user_email = $2
	`, issueID, recipient, newRetryCount, int64(delay.Seconds()))
	if err != nil {
		return fmt.Errorf("reschedule delivery task: %w", err)
	}
	return nil
}

// DeleteTask removes a task unconditionally, on the caller's transaction.
// Used on success and on permanent give-up alike.
func (s *Store) DeleteTask(ctx context.Context, tx *sql.Tx, issueID uuid.UUID, recipient string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM issue_delivery_queue
		WHERE newsletter_issue_id = $1
		  AND user_email = $2
	`, issueID, recipient)
	if err != nil {
		return fmt.Errorf("delete delivery task: %w", err)
	}
	return nil
}

// GetIssue fetches the content a live task references. A missing issue is
// an internal consistency violation, so absence is an error, never nil.
func (s *Store) GetIssue(ctx context.Context, tx *sql.Tx, issueID uuid.UUID) (*Issue, error) {
	issue := &Issue{ID: issueID}
	err := tx.QueryRowContext(ctx, `
		SELECT title, text_content, html_content
		FROM newsletter_issues
		WHERE id = $1
	`, issueID).Scan(&issue.Title, &issue.TextContent, &issue.HTMLContent)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("delivery task references missing issue %s", issueID)
	}
	if err != nil {
		return nil, fmt.Errorf("get newsletter issue: %w", err)
	}
	return issue, nil
}

// DeleteIssuesOlderThan removes issue content past the retention window.
// Issues that still have queue rows are kept regardless of age, so cleanup
// can never orphan a live task. Returns the number of deleted rows.
func (s *Store) DeleteIssuesOlderThan(ctx context.Context, window time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM newsletter_issues i
		WHERE i.created_at < NOW() - $1 * INTERVAL '1 second'
		  AND NOT EXISTS (
			SELECT 1 FROM issue_delivery_queue q
			WHERE q.newsletter_issue_id = i.id
		  )
	`, int64(window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("delete expired newsletter issues: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired newsletter issues: %w", err)
	}
	return deleted, nil
}
