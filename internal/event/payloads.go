package event

import (
	"encoding/json"
	"time"

	"realtime_go/internal/domain"
	"realtime_go/internal/room"
)

type Register struct {
	Username string `json:"username"`
}

func (p *Register) Validate() error {
	if p.Username == "" {
		return invalid("register requires username")
	}
	return nil
}

// RoomRef names a room from the point of view of the connection's user, so a
// client never has to compute keys itself.
type RoomRef struct {
	Kind        room.Kind `json:"kind"`
	Peer        string    `json:"peer,omitempty"`
	CommunityID string    `json:"community_id,omitempty"`
}

func (p *RoomRef) Validate() error {
	switch p.Kind {
	case room.KindPrivate:
		if p.Peer == "" {
			return invalid("private room requires peer")
		}
	case room.KindCommunity:
		if p.CommunityID == "" {
			return invalid("community room requires community_id")
		}
	default:
		return invalid("unsupported room kind %q", p.Kind)
	}
	return nil
}

// Resolve turns the reference into a room for user self.
func (p *RoomRef) Resolve(self string) (room.Room, error) {
	var r room.Room
	switch p.Kind {
	case room.KindPrivate:
		r = room.Private(self, p.Peer)
	case room.KindCommunity:
		r = room.Community(p.CommunityID)
	default:
		return room.Room{}, invalid("unsupported room kind %q", p.Kind)
	}
	if err := r.Validate(); err != nil {
		return room.Room{}, invalid("%v", err)
	}
	return r, nil
}

type PrivateMessage struct {
	ID        string    `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	MediaURL  *string   `json:"media_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *PrivateMessage) Validate() error {
	if p.Sender == "" || p.Recipient == "" {
		return invalid("private_message requires sender and recipient")
	}
	if p.Sender == p.Recipient {
		return invalid("private_message sender and recipient must differ")
	}
	if p.Content == "" && (p.MediaURL == nil || *p.MediaURL == "") {
		return invalid("private_message requires content or media")
	}
	if len([]rune(p.Content)) > MaxContentRunes {
		return invalid("content exceeds %d characters", MaxContentRunes)
	}
	return nil
}

// MaxContentRunes bounds message content length.
const MaxContentRunes = 5000

type EditMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

func (p *EditMessage) Validate() error {
	if p.ID == "" || p.Sender == "" || p.Recipient == "" {
		return invalid("edit_message requires id, sender and recipient")
	}
	if p.Content == "" {
		return invalid("edit_message requires content")
	}
	if len([]rune(p.Content)) > MaxContentRunes {
		return invalid("content exceeds %d characters", MaxContentRunes)
	}
	return nil
}

type DeleteMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

func (p *DeleteMessage) Validate() error {
	if p.ID == "" || p.Sender == "" || p.Recipient == "" {
		return invalid("delete_message requires id, sender and recipient")
	}
	return nil
}

type CommunityMessage struct {
	ID          string    `json:"id,omitempty"`
	CommunityID string    `json:"community_id"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	MediaURL    *string   `json:"media_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (p *CommunityMessage) Validate() error {
	if p.CommunityID == "" || p.Sender == "" {
		return invalid("community_message requires community_id and sender")
	}
	if p.Content == "" && (p.MediaURL == nil || *p.MediaURL == "") {
		return invalid("community_message requires content or media")
	}
	if len([]rune(p.Content)) > MaxContentRunes {
		return invalid("content exceeds %d characters", MaxContentRunes)
	}
	return nil
}

// Typing is used for typing_start and typing_stop; exactly one of Recipient
// and CommunityID is set.
type Typing struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient,omitempty"`
	CommunityID string `json:"community_id,omitempty"`
}

func (p *Typing) Validate() error {
	if p.Sender == "" {
		return invalid("typing requires sender")
	}
	if (p.Recipient == "") == (p.CommunityID == "") {
		return invalid("typing requires exactly one of recipient or community_id")
	}
	return nil
}

// CallInitiate starts a call. For group calls CommunityID is set and Callee is
// empty; Participants optionally narrows the invite list.
type CallInitiate struct {
	CallID       string          `json:"call_id,omitempty"`
	Caller       string          `json:"caller"`
	CallerName   string          `json:"caller_name,omitempty"`
	Callee       string          `json:"callee,omitempty"`
	CommunityID  string          `json:"community_id,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	CallType     domain.CallType `json:"call_type"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (p *CallInitiate) Validate() error {
	if p.Caller == "" {
		return invalid("call_initiate requires caller")
	}
	if (p.Callee == "") == (p.CommunityID == "") {
		return invalid("call_initiate requires exactly one of callee or community_id")
	}
	if p.Callee == p.Caller {
		return invalid("cannot call yourself")
	}
	if !p.CallType.Valid() {
		return invalid("call_type must be audio or video")
	}
	return nil
}

// CallAction carries accept, decline, end, join and leave.
type CallAction struct {
	CallID   string `json:"call_id"`
	From     string `json:"from"`
	Reason   string `json:"reason,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds, set on call_end
}

func (p *CallAction) Validate() error {
	if p.CallID == "" || p.From == "" {
		return invalid("call action requires call_id and from")
	}
	return nil
}

// CallSignal relays an opaque negotiation payload (offer, answer, ice).
type CallSignal struct {
	CallID  string          `json:"call_id"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (p *CallSignal) Validate() error {
	if p.CallID == "" || p.From == "" {
		return invalid("call_signal requires call_id and from")
	}
	if p.Kind == "" {
		return invalid("call_signal requires kind")
	}
	return nil
}

type OnlineUsers struct {
	Users []string `json:"users"`
}

type Error struct {
	Message string `json:"message"`
	Ref     Type   `json:"ref,omitempty"`
}

func (p *OnlineUsers) Validate() error { return nil }

func (p *Error) Validate() error {
	if p.Message == "" {
		return invalid("error requires message")
	}
	return nil
}
