package domain

import "time"

// User is the slice of an account the realtime core reads and writes.
type User struct {
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	AvatarURL   *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	IsOnline    bool      `db:"is_online" json:"is_online"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Message is a persisted private (two-party) chat message.
type Message struct {
	ID        string     `db:"id"`
	Sender    string     `db:"sender"`
	Recipient string     `db:"recipient"`
	Content   string     `db:"content"` // encrypted at rest
	MediaURL  *string    `db:"media_url"`
	CreatedAt time.Time  `db:"created_at"`
	EditedAt  *time.Time `db:"edited_at"`
	IsDeleted bool       `db:"is_deleted"`
}

// CommunityMessage is a persisted message broadcast to a community.
type CommunityMessage struct {
	ID          string    `db:"id"`
	CommunityID string    `db:"community_id"`
	Sender      string    `db:"sender"`
	Content     string    `db:"content"` // encrypted at rest
	MediaURL    *string   `db:"media_url"`
	CreatedAt   time.Time `db:"created_at"`
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusMissed    CallStatus = "missed"
	CallStatusEnded     CallStatus = "ended"
)

// CallLog is an immutable historical row describing one call attempt or outcome.
type CallLog struct {
	ID          int64      `db:"id"`
	CallID      string     `db:"call_id"`
	Caller      string     `db:"caller"`
	Receiver    string     `db:"receiver"`
	CommunityID *string    `db:"community_id"`
	Status      CallStatus `db:"status"`
	Type        CallType   `db:"type"`
	Duration    int        `db:"duration"` // seconds
	CreatedAt   time.Time  `db:"created_at"`
}

// PushToken is a device registration for the push gateway.
type PushToken struct {
	Username  string    `db:"username" json:"username"`
	Token     string    `db:"token" json:"token"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
