package service

import (
	"context"
	"fmt"
	"time"

	"realtime_go/internal/domain"
)

// OnlineSet answers live presence questions; the presence registry implements it.
type OnlineSet interface {
	IsOnline(username string) bool
	Online() []string
}

type UserService struct {
	users  domain.UserRepository
	online OnlineSet
}

func NewUserService(users domain.UserRepository, online OnlineSet) *UserService {
	return &UserService{users: users, online: online}
}

type Presence struct {
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// ListOnline returns the sorted usernames with a live connection.
func (s *UserService) ListOnline() []string {
	return s.online.Online()
}

// GetPresence combines live state with the persisted profile. Last seen is
// only reported for users who are offline.
func (s *UserService) GetPresence(ctx context.Context, username string) (*Presence, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	p := &Presence{
		Username:    u.Username,
		DisplayName: u.Name(),
		AvatarURL:   u.AvatarURL,
		Online:      s.online.IsOnline(username),
	}
	if !p.Online && !u.LastSeen.IsZero() {
		seen := u.LastSeen
		p.LastSeen = &seen
	}
	return p, nil
}
