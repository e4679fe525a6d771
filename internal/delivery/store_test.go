package delivery

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock, db
}

func beginTx(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *sql.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return tx
}

func TestInsertIssueAndEnqueue(t *testing.T) {
	store, mock, db := setupStore(t)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO newsletter_issues")).
		WithArgs(sqlmock.AnyArg(), "Weekly", "hi", "<p>hi</p>").
		WillReturnResult(sqlmock.NewResult(0, 1))

	issueID, err := store.InsertIssue(context.Background(), tx, "Weekly", "hi", "<p>hi</p>")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, issueID)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO issue_delivery_queue")).
		WithArgs(issueID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	enqueued, err := store.EnqueueDeliveryTasks(context.Background(), tx, issueID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), enqueued)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueDeliveryTasks_RowsAffectedErrorSurfaces(t *testing.T) {
	store, mock, db := setupStore(t)
	tx := beginTx(t, db, mock)
	issueID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO issue_delivery_queue")).
		WithArgs(issueID).
		WillReturnResult(sqlmock.NewErrorResult(assert.AnError))

	_, err := store.EnqueueDeliveryTasks(context.Background(), tx, issueID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue delivery tasks")
}

func TestDequeueTask_ReturnsLockedTask(t *testing.T) {
	store, mock, _ := setupStore(t)
	issueID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows([]string{"newsletter_issue_id", "user_email", "retry_count"}).
			AddRow(issueID, "user@example.com", 2))

	tx, task, err := store.DequeueTask(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.NotNil(t, task)
	assert.Equal(t, issueID, task.IssueID)
	assert.Equal(t, "user@example.com", task.Recipient)
	assert.Equal(t, 2, task.RetryCount)

	mock.ExpectRollback()
	tx.Rollback()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueTask_EmptyQueueIsNotAnError(t *testing.T) {
	store, mock, _ := setupStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, task, err := store.DequeueTask(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, tx)
	assert.Nil(t, task)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleTask(t *testing.T) {
	store, mock, db := setupStore(t)
	tx := beginTx(t, db, mock)
	issueID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE issue_delivery_queue")).
		WithArgs(issueID, "user@example.com", 1, int64(90)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RescheduleTask(context.Background(), tx, issueID, "user@example.com", 1, 90*time.Second)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTask(t *testing.T) {
	store, mock, db := setupStore(t)
	tx := beginTx(t, db, mock)
	issueID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM issue_delivery_queue")).
		WithArgs(issueID, "user@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteTask(context.Background(), tx, issueID, "user@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIssue_MissingIssueFailsLoudly(t *testing.T) {
	store, mock, db := setupStore(t)
	tx := beginTx(t, db, mock)
	issueID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM newsletter_issues")).
		WithArgs(issueID).
		WillReturnError(sql.ErrNoRows)

	issue, err := store.GetIssue(context.Background(), tx, issueID)
	assert.Nil(t, issue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing issue")
}

func TestGetIssue(t *testing.T) {
	store, mock, db := setupStore(t)
	tx := beginTx(t, db, mock)
	issueID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM newsletter_issues")).
		WithArgs(issueID).
		WillReturnRows(sqlmock.NewRows([]string{"title", "text_content", "html_content"}).
			AddRow("Weekly", "hi", "<p>hi</p>"))

	issue, err := store.GetIssue(context.Background(), tx, issueID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", issue.Title)
	assert.Equal(t, "hi", issue.TextContent)
	assert.Equal(t, "<p>hi</p>", issue.HTMLContent)
}

func TestDeleteIssuesOlderThan_KeepsIssuesWithLiveTasks(t *testing.T) {
	store, mock, _ := setupStore(t)

	mock.ExpectExec(regexp.QuoteMeta("NOT EXISTS")).
		WithArgs(int64((7 * 24 * time.Hour).Seconds())).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := store.DeleteIssuesOlderThan(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}
