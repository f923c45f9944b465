package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"realtime_go/internal/domain"
	"realtime_go/internal/event"
	"realtime_go/internal/service"
)

type messageCreateRequest struct {
	ID        string     `json:"id"`
	Recipient string     `json:"recipient"`
	Content   string     `json:"content"`
	MediaURL  *string    `json:"media_url"`
	Timestamp *time.Time `json:"timestamp"`
}

type duplicateResponse struct {
	Status string `json:"status"`
}

// handleSendPrivate is the REST twin of the private_message event. A copy the
// websocket path already delivered is acknowledged without side effects.
func handleSendPrivate(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		p := event.PrivateMessage{
			ID:        req.ID,
			Sender:    currentUser.Username,
			Recipient: req.Recipient,
			Content:   req.Content,
			MediaURL:  req.MediaURL,
		}
		if req.Timestamp != nil {
			p.Timestamp = req.Timestamp.UTC()
		}
		msg, err := msgSvc.SendPrivate(r.Context(), p)
		if errors.Is(err, domain.ErrDuplicate) {
			writeJSON(w, http.StatusOK, duplicateResponse{Status: "duplicate"})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleSendCommunity(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		p := event.CommunityMessage{
			ID:          req.ID,
			CommunityID: chi.URLParam(r, "communityID"),
			Sender:      currentUser.Username,
			Content:     req.Content,
			MediaURL:    req.MediaURL,
		}
		if req.Timestamp != nil {
			p.Timestamp = req.Timestamp.UTC()
		}
		msg, err := msgSvc.SendCommunity(r.Context(), p)
		if errors.Is(err, domain.ErrDuplicate) {
			writeJSON(w, http.StatusOK, duplicateResponse{Status: "duplicate"})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}
