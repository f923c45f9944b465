package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"realtime_go/internal/service"
)

func handleListOnlineUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"users": userSvc.ListOnline()})
	}
}

func handleGetPresence(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := userSvc.GetPresence(r.Context(), chi.URLParam(r, "username"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
