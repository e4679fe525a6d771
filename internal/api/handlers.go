// Package api exposes the HTTP surface: the admin publish endpoint, the
// session-boundary middleware, and health probes.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/ignite/newsletter-engine/internal/delivery"
	"github.com/ignite/newsletter-engine/internal/idempotency"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	idem     *idempotency.Store
	delivery *delivery.Store
	db       *sql.DB
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(idemStore *idempotency.Store, deliveryStore *delivery.Store, db *sql.DB) *Handlers {
	return &Handlers{
		idem:     idemStore,
		delivery: deliveryStore,
		db:       db,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
