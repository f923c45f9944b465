package domain

import (
	"context"
	"time"
)

// UserRepository covers the account fields the realtime core touches.
type UserRepository interface {
	GetUser(ctx context.Context, username string) (*User, error)
	UpsertUser(ctx context.Context, u *User) error
	SetOnlineStatus(ctx context.Context, username string, isOnline bool) error
	SetLastSeen(ctx context.Context, username string, at time.Time) error
}

// MessageRepository persists private and community messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, m *Message) error
	UpdateMessage(ctx context.Context, id, sender, content string) error
	DeleteMessage(ctx context.Context, id, sender string) error
	CreateCommunityMessage(ctx context.Context, m *CommunityMessage) error
}

// CallLogRepository appends call history rows.
type CallLogRepository interface {
	CreateCallLog(ctx context.Context, l *CallLog) error
}

// CommunityRepository resolves community membership.
type CommunityRepository interface {
	ListCommunityMembers(ctx context.Context, communityID string) ([]string, error)
	AddCommunityMember(ctx context.Context, communityID, username string) error
}

// PushTokenRepository stores device push tokens per user.
type PushTokenRepository interface {
	ListPushTokens(ctx context.Context, username string) ([]string, error)
	AddPushToken(ctx context.Context, t *PushToken) error
	RemovePushToken(ctx context.Context, username, token string) error
}

// Store is the full persistence collaborator.
type Store interface {
	UserRepository
	MessageRepository
	CallLogRepository
	CommunityRepository
	PushTokenRepository
}
