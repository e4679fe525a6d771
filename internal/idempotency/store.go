package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SavedResponse is the recorded outcome of a completed publish request,
// replayed verbatim to retries of the same (user, key).
type SavedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Store provides database operations for idempotency records.
type Store struct {
	db *sql.DB
}

// NewStore creates a new idempotency store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// TryProcessing reserves the (user, key) pair or replays a prior result.
// Exactly one of the return values is non-nil on success:
//
//   - An open *sql.Tx: this request won the reservation. The caller must do
//     the protected work on that transaction and finish with SaveResponse
//     (which commits) or roll the whole thing back, leaving the key free.
//   - A *SavedResponse: another request already completed this key; return
//     its response verbatim.
//
// Concurrent duplicates serialize on the unique index: the loser's INSERT
// blocks inside its transaction until the winner commits, then affects zero
// rows and finds the winner's saved response.
func (s *Store) TryProcessing(ctx context.Context, userID uuid.UUID, key Key) (*sql.Tx, *SavedResponse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin idempotency transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency (user_id, idempotency_key, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key.String())
	if err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	if affected > 0 {
		return tx, nil, nil
	}

	// Lost the race — the reservation transaction is no longer needed.
	tx.Rollback()

	saved, err := s.GetSavedResponse(ctx, userID, key)
	if err != nil {
		return nil, nil, err
	}
	if saved == nil {
		return nil, nil, fmt.Errorf("idempotency record for key %q exists without a saved response", key)
	}
	return nil, saved, nil
}

// GetSavedResponse returns the completed response for (user, key), or nil
// if the key is unknown or still in progress.
func (s *Store) GetSavedResponse(ctx context.Context, userID uuid.UUID, key Key) (*SavedResponse, error) {
	var (
		statusCode int
		headersRaw []byte
		body       []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE user_id = $1
		  AND idempotency_key = $2
		  AND response_status_code IS NOT NULL
	`, userID, key.String()).Scan(&statusCode, &headersRaw, &body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load saved response: %w", err)
	}

	headers := http.Header{}
	if len(headersRaw) > 0 {
		if err := json.Unmarshal(headersRaw, &headers); err != nil {
			return nil, fmt.Errorf("decode saved response headers: %w", err)
		}
	}

	return &SavedResponse{StatusCode: statusCode, Headers: headers, Body: body}, nil
}

// SaveResponse completes the reservation with the final HTTP response and
// commits tx — the same transaction that reserved the key and did the
// protected work, so all three land atomically.
func (s *Store) SaveResponse(ctx context.Context, tx *sql.Tx, userID uuid.UUID, key Key, resp *SavedResponse) error {
	headersRaw, err := json.Marshal(resp.Headers)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("encode response headers: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE idempotency
		SET response_status_code = $3,
		    response_headers = $4,
		    response_body = $5
		WHERE user_id = $1
		  AND idempotency_key = $2
	`, userID, key.String(), resp.StatusCode, headersRaw, resp.Body)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("save response: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		tx.Rollback()
		return fmt.Errorf("save response: reservation for key %q vanished", key)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish transaction: %w", err)
	}
	return nil
}

// DeleteRecordsOlderThan removes completed and abandoned records past the
// retention window. Returns the number of deleted rows.
func (s *Store) DeleteRecordsOlderThan(ctx context.Context, window time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency
		WHERE created_at < NOW() - $1 * INTERVAL '1 second'
	`, int64(window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return deleted, nil
}
