// Package room defines the three kinds of logical delivery channel and their
// canonical keys. Rooms carry no state of their own; membership lives in the
// presence registry.
package room

import (
	"errors"
	"sort"
	"strings"
)

type Kind string

const (
	KindPrivate   Kind = "private"
	KindCommunity Kind = "community"
	KindPersonal  Kind = "personal"
)

// Key is the canonical identifier of a room. Keys of different kinds never
// collide because the kind is part of the key.
type Key string

const sep = ":"

// Room is a tagged variant: exactly one of the field groups is meaningful
// depending on Kind.
type Room struct {
	Kind        Kind
	Users       [2]string // private: sorted pair
	CommunityID string    // community
	User        string    // personal
}

var ErrInvalidRoom = errors.New("invalid room")

// Private builds the two-party room for a and b. Both ends compute the same
// room regardless of argument order.
func Private(a, b string) Room {
	pair := []string{a, b}
	sort.Strings(pair)
	return Room{Kind: KindPrivate, Users: [2]string{pair[0], pair[1]}}
}

func Community(id string) Room {
	return Room{Kind: KindCommunity, CommunityID: id}
}

func Personal(username string) Room {
	return Room{Kind: KindPersonal, User: username}
}

// Key returns the canonical key. Usernames are joined with a separator that
// is escaped inside components, so ("a:b","c") and ("a","b:c") differ.
func (r Room) Key() Key {
	switch r.Kind {
	case KindPrivate:
		return Key(string(KindPrivate) + sep + escape(r.Users[0]) + sep + escape(r.Users[1]))
	case KindCommunity:
		return Key(string(KindCommunity) + sep + escape(r.CommunityID))
	case KindPersonal:
		return Key(string(KindPersonal) + sep + escape(r.User))
	}
	return ""
}

func (r Room) Validate() error {
	switch r.Kind {
	case KindPrivate:
		if r.Users[0] == "" || r.Users[1] == "" || r.Users[0] == r.Users[1] {
			return ErrInvalidRoom
		}
	case KindCommunity:
		if r.CommunityID == "" {
			return ErrInvalidRoom
		}
	case KindPersonal:
		if r.User == "" {
			return ErrInvalidRoom
		}
	default:
		return ErrInvalidRoom
	}
	return nil
}

// Other returns the counterpart of username in a private room.
func (r Room) Other(username string) string {
	if r.Kind != KindPrivate {
		return ""
	}
	if r.Users[0] == username {
		return r.Users[1]
	}
	if r.Users[1] == username {
		return r.Users[0]
	}
	return ""
}

var escaper = strings.NewReplacer(`\`, `\\`, sep, `\`+sep)

func escape(s string) string {
	return escaper.Replace(s)
}
