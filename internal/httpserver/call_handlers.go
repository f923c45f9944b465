package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"realtime_go/internal/call"
)

// handleGetCall returns a live or recently finished call to one of its parties.
func handleGetCall(calls *call.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		s, err := calls.Get(chi.URLParam(r, "callID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !s.Involves(currentUser.Username) {
			writeError(w, r, call.ErrNotParty)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
