package call

import (
	"sort"
	"time"

	"realtime_go/internal/domain"
)

// Session is a point-in-time copy of a call.
type Session struct {
	ID           string          `json:"id"`
	Caller       string          `json:"caller"`
	CallerName   string          `json:"caller_name"`
	Callee       string          `json:"callee,omitempty"`
	CommunityID  string          `json:"community_id,omitempty"`
	Invited      []string        `json:"invited,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	Type         domain.CallType `json:"type"`
	State        State           `json:"state"`
	StartedAt    time.Time       `json:"started_at"`
	AnsweredAt   *time.Time      `json:"answered_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Duration     int             `json:"duration"`
	Reason       string          `json:"reason,omitempty"`
}

func (s Session) Group() bool { return s.CommunityID != "" }

// Involves reports whether username was rung or took part.
func (s Session) Involves(username string) bool {
	if username == s.Caller || username == s.Callee {
		return true
	}
	for _, u := range s.Invited {
		if u == username {
			return true
		}
	}
	for _, u := range s.Participants {
		if u == username {
			return true
		}
	}
	return false
}

type session struct {
	id          string
	caller      string
	callerName  string
	callee      string
	communityID string
	typ         domain.CallType
	state       State
	startedAt   time.Time
	answeredAt  time.Time
	endedAt     time.Time
	duration    int
	reason      string

	// group calls: invitees that have not joined or declined yet, and the
	// current participant set (the caller is a participant from the start).
	pending map[string]struct{}
	joined  map[string]struct{}

	timer *time.Timer
}

func (s *session) group() bool { return s.communityID != "" }

// party reports whether username takes part in the call.
func (s *session) party(username string) bool {
	if username == s.caller {
		return true
	}
	if !s.group() {
		return username == s.callee
	}
	_, invited := s.pending[username]
	_, in := s.joined[username]
	return invited || in
}

// other returns the counterpart of username in a two-party call.
func (s *session) other(username string) string {
	if username == s.caller {
		return s.callee
	}
	return s.caller
}

func (s *session) snapshot() Session {
	out := Session{
		ID:           s.id,
		Caller:       s.caller,
		CallerName:   s.callerName,
		Callee:       s.callee,
		CommunityID:  s.communityID,
		Invited:      setToSlice(s.pending),
		Participants: setToSlice(s.joined),
		Type:         s.typ,
		State:        s.state,
		StartedAt:    s.startedAt,
		Duration:     s.duration,
		Reason:       s.reason,
	}
	if !s.answeredAt.IsZero() {
		at := s.answeredAt
		out.AnsweredAt = &at
	}
	if !s.endedAt.IsZero() {
		at := s.endedAt
		out.EndedAt = &at
	}
	return out
}

func setToSlice(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
