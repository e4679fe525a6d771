package api

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/idempotency"
	"github.com/ignite/newsletter-engine/internal/pkg/logger"
)

type publishRequest struct {
	Title   string `json:"title"`
	Content struct {
		HTML string `json:"html"`
		Text string `json:"text"`
	} `json:"content"`
}

// PublishNewsletter accepts a newsletter issue for delivery.
//
//	POST /admin/newsletters
//
// The Idempotency-Key header makes the endpoint safe to retry: the issue
// row, the per-recipient delivery queue fan-out, and the cached response
// commit in one transaction, so a retried request either replays the saved
// response verbatim or observes no trace of the failed attempt.
func (h *Handlers) PublishNewsletter(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	key, err := idempotency.ParseKey(r.Header.Get("Idempotency-Key"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid Idempotency-Key header: "+err.Error())
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	newsletter, err := domain.NewNewsletter(req.Title, req.Content.HTML, req.Content.Text)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	tx, saved, err := h.idem.TryProcessing(ctx, userID, key)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "Failed to publish newsletter")
		return
	}
	if saved != nil {
		// A request with this key already completed; replay its response
		// verbatim without publishing anything.
		for name, values := range saved.Headers {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(saved.StatusCode)
		w.Write(saved.Body)
		return
	}

	issueID, err := h.delivery.InsertIssue(ctx, tx,
		newsletter.Title.String(), newsletter.Text.String(), newsletter.HTML.String())
	if err != nil {
		tx.Rollback()
		respondSafeError(w, http.StatusInternalServerError, err, "Failed to publish newsletter")
		return
	}

	enqueued, err := h.delivery.EnqueueDeliveryTasks(ctx, tx, issueID)
	if err != nil {
		tx.Rollback()
		respondSafeError(w, http.StatusInternalServerError, err, "Failed to publish newsletter")
		return
	}

	resp := &idempotency.SavedResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       []byte{},
	}
	if err := h.idem.SaveResponse(ctx, tx, userID, key, resp); err != nil {
		tx.Rollback()
		respondSafeError(w, http.StatusInternalServerError, err, "Failed to publish newsletter")
		return
	}

	logger.Info("newsletter issue accepted for delivery",
		"issue_id", issueID, "user_id", userID.String(), "recipients", enqueued)

	w.WriteHeader(http.StatusOK)
}
