package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/pkg/logger"
)

// EmailClient is the external email-sending collaborator. Any error,
// including a timeout, means "delivery failed" — the worker does not
// distinguish causes.
type EmailClient interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// Outcome reports what one worker iteration did.
type Outcome int

const (
	// TaskCompleted means a task was dequeued and resolved: delivered,
	// rescheduled, or discarded. The queue may hold more work.
	TaskCompleted Outcome = iota
	// EmptyQueue means no task was eligible. Not a failure.
	EmptyQueue
)

const (
	// DefaultIdleSleep is how long the loop rests when the queue is empty.
	DefaultIdleSleep = 10 * time.Minute

	// DefaultSendTimeout bounds one email-send call; it also bounds how
	// long the dequeue row lock is held per task.
	DefaultSendTimeout = 30 * time.Second

	// DefaultMaxRetries is the per-task retry budget. A task failing its
	// sixth attempt is discarded permanently.
	DefaultMaxRetries = 5

	// retryMaxBase caps the per-task backoff schedule (1,2,4,8,16,32m).
	retryMaxBase = 32 * time.Minute

	// retryJitterMax is the random spread added to every reschedule.
	retryJitterMax = 30 * time.Second

	// Outer-loop backoff for infrastructure errors (database unreachable,
	// dequeue failures). Independent from the per-task schedule.
	errorBackoffBase = 1 * time.Second
	errorBackoffMax  = 120 * time.Second
)

// Worker drains the delivery queue: one task per iteration, dequeued under
// a row lock, resolved, committed. Multiple workers (goroutines or
// processes) can run concurrently against the same queue.
type Worker struct {
	store       *Store
	client      EmailClient
	idleSleep   time.Duration
	sendTimeout time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	rng         *rand.Rand
}

// NewWorker creates a delivery worker with default timing.
func NewWorker(store *Store, client EmailClient) *Worker {
	return NewWorkerWithConfig(store, client, DefaultIdleSleep, DefaultSendTimeout, DefaultMaxRetries)
}

// NewWorkerWithConfig creates a delivery worker with custom timing.
func NewWorkerWithConfig(store *Store, client EmailClient, idleSleep, sendTimeout time.Duration, maxRetries int) *Worker {
	if idleSleep <= 0 {
		idleSleep = DefaultIdleSleep
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Worker{
		store:       store,
		client:      client,
		idleSleep:   idleSleep,
		sendTimeout: sendTimeout,
		maxRetries:  maxRetries,
		backoffBase: errorBackoffBase,
		backoffMax:  errorBackoffMax,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the worker loop until ctx is cancelled.
//
// Two backoffs live here and must not be confused: the per-task retry
// schedule (written to execute_after by ExecuteTask) handles a recipient
// that keeps failing; the outer backoff below handles the worker's own
// infrastructure failing, and resets after any clean iteration.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[DeliveryWorker] Starting (idle_sleep=%s, send_timeout=%s, max_retries=%d)",
		w.idleSleep, w.sendTimeout, w.maxRetries)

	backoff := w.backoffBase
	for {
		if ctx.Err() != nil {
			log.Println("[DeliveryWorker] Stopping")
			return
		}

		outcome, err := w.ExecuteTask(ctx)
		if err != nil {
			logger.Warn("transient failure while executing delivery task", "error", err)
			if !w.sleep(ctx, w.jittered(backoff)) {
				log.Println("[DeliveryWorker] Stopping")
				return
			}
			backoff = w.nextBackoff(backoff)
			continue
		}

		backoff = w.backoffBase
		if outcome == EmptyQueue {
			if !w.sleep(ctx, w.idleSleep) {
				log.Println("[DeliveryWorker] Stopping")
				return
			}
		}
	}
}

// ExecuteTask performs one dequeue-resolve-commit unit of work.
//
// A failed delivery is a resolved task (rescheduled or discarded), not an
// error; errors mean the unit of work itself could not complete and the
// caller should back off.
func (w *Worker) ExecuteTask(ctx context.Context) (Outcome, error) {
	tx, task, err := w.store.DequeueTask(ctx)
	if err != nil {
		return TaskCompleted, err
	}
	if task == nil {
		return EmptyQueue, nil
	}

	recipient, parseErr := domain.ParseRecipient(task.Recipient)
	if parseErr != nil {
		// A malformed stored address can never succeed; discard without
		// ever calling the email client.
		logger.Warn("discarding task with invalid stored recipient",
			"issue_id", task.IssueID, "recipient", task.Recipient, "error", parseErr)
		if err := w.store.DeleteTask(ctx, tx, task.IssueID, task.Recipient); err != nil {
			tx.Rollback()
			return TaskCompleted, err
		}
		return TaskCompleted, commitTask(tx)
	}

	issue, err := w.store.GetIssue(ctx, tx, task.IssueID)
	if err != nil {
		tx.Rollback()
		return TaskCompleted, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	sendErr := w.client.Send(sendCtx, recipient.String(), issue.Title, issue.HTMLContent, issue.TextContent)
	cancel()

	if sendErr != nil {
		nextRetry := task.RetryCount + 1
		if nextRetry > w.maxRetries {
			logger.Error("giving up on delivery after exhausting retries",
				"issue_id", task.IssueID, "recipient", task.Recipient,
				"attempts", nextRetry, "error", sendErr)
			if err := w.store.DeleteTask(ctx, tx, task.IssueID, task.Recipient); err != nil {
				tx.Rollback()
				return TaskCompleted, err
			}
		} else {
			delay := w.retryDelay(nextRetry)
			logger.Warn("delivery failed, rescheduling",
				"issue_id", task.IssueID, "recipient", task.Recipient,
				"retry_count", nextRetry, "delay", delay, "error", sendErr)
			if err := w.store.RescheduleTask(ctx, tx, task.IssueID, task.Recipient, nextRetry, delay); err != nil {
				tx.Rollback()
				return TaskCompleted, err
			}
		}
		return TaskCompleted, commitTask(tx)
	}

	logger.Info("newsletter issue delivered",
		"issue_id", task.IssueID, "recipient", task.Recipient)
	if err := w.store.DeleteTask(ctx, tx, task.IssueID, task.Recipient); err != nil {
		tx.Rollback()
		return TaskCompleted, err
	}
	return TaskCompleted, commitTask(tx)
}

// retryDelay computes the reschedule delay for the given retry number:
// 1,2,4,8,16,32 minutes capped at 32, plus 0–30s of jitter so retries from
// one failed batch don't land on the same instant.
func (w *Worker) retryDelay(retryCount int) time.Duration {
	shift := retryCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 5 {
		shift = 5
	}
	base := time.Minute << shift
	if base > retryMaxBase {
		base = retryMaxBase
	}
	return base + time.Duration(w.rng.Int63n(int64(retryJitterMax)+1))
}

// nextBackoff doubles the outer-loop infrastructure backoff up to the cap.
func (w *Worker) nextBackoff(cur time.Duration) time.Duration {
	cur *= 2
	if cur > w.backoffMax {
		cur = w.backoffMax
	}
	return cur
}

// jittered spreads d by 0–20% to avoid synchronized retry storms across
// worker instances.
func (w *Worker) jittered(d time.Duration) time.Duration {
	return d + time.Duration(w.rng.Float64()*0.2*float64(d))
}

// sleep waits for d or until ctx is cancelled. Returns false on cancel.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// commitTask commits the unit of work. A failed commit is rolled back; a
// rollback failing on top of that leaves the task's stored state ambiguous
// and both causes are surfaced together.
func commitTask(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("commit delivery task failed: %v; rollback also failed: %v", err, rbErr)
		}
		return fmt.Errorf("commit delivery task: %w", err)
	}
	return nil
}
