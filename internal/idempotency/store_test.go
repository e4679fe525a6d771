package idempotency

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	_, err := ParseKey("")
	assert.Error(t, err)

	_, err = ParseKey(strings.Repeat("k", 51))
	assert.Error(t, err)

	key, err := ParseKey("k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", key.String())
}

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestTryProcessing_WinsReservation(t *testing.T) {
	store, mock := setupStore(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency")).
		WithArgs(userID, "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, saved, err := store.TryProcessing(context.Background(), userID, Key("k1"))
	require.NoError(t, err)
	assert.NotNil(t, tx)
	assert.Nil(t, saved)

	mock.ExpectRollback()
	tx.Rollback()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryProcessing_ReplaysSavedResponse(t *testing.T) {
	store, mock := setupStore(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency")).
		WithArgs(userID, "k1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT response_status_code, response_headers, response_body")).
		WithArgs(userID, "k1").
		WillReturnRows(sqlmock.NewRows([]string{"response_status_code", "response_headers", "response_body"}).
			AddRow(200, []byte(`{"Content-Type":["application/json"]}`), []byte{}))

	tx, saved, err := store.TryProcessing(context.Background(), userID, Key("k1"))
	require.NoError(t, err)
	assert.Nil(t, tx)
	require.NotNil(t, saved)
	assert.Equal(t, 200, saved.StatusCode)
	assert.Equal(t, "application/json", saved.Headers.Get("Content-Type"))
	assert.Empty(t, saved.Body)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryProcessing_InProgressWithoutResponseIsError(t *testing.T) {
	store, mock := setupStore(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency")).
		WithArgs(userID, "k1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT response_status_code")).
		WithArgs(userID, "k1").
		WillReturnRows(sqlmock.NewRows([]string{"response_status_code", "response_headers", "response_body"}))

	tx, saved, err := store.TryProcessing(context.Background(), userID, Key("k1"))
	assert.Error(t, err)
	assert.Nil(t, tx)
	assert.Nil(t, saved)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResponse_CommitsUnitOfWork(t *testing.T) {
	store, mock := setupStore(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency")).
		WithArgs(userID, "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE idempotency")).
		WithArgs(userID, "k1", 200, sqlmock.AnyArg(), []byte{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, _, err := store.TryProcessing(context.Background(), userID, Key("k1"))
	require.NoError(t, err)

	resp := &SavedResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte{}}
	require.NoError(t, store.SaveResponse(context.Background(), tx, userID, Key("k1"), resp))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRecordsOlderThan(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency")).
		WithArgs(int64((48 * time.Hour).Seconds())).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := store.DeleteRecordsOlderThan(context.Background(), 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}
