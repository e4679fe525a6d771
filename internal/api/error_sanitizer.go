package api

import (
	"log"
	"net/http"
)

// respondSafeError logs the full internal error and sends a sanitized JSON
// error response. Internal errors (SQL details, file paths) are never leaked
// to API consumers; 5xx responses carry only the generic public message.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		log.Printf("ERROR [%d]: %s: %v", code, publicMsg, internalErr)
	}
	respondError(w, code, publicMsg)
}
