// Package router fans routed events out to rooms through the presence
// registry and reports which targets had no live connection.
package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"realtime_go/internal/event"
	"realtime_go/internal/metrics"
	"realtime_go/internal/room"
)

// Registry is the subset of the presence registry the router needs.
type Registry interface {
	Deliver(keys []room.Key, frame []byte, skip map[string]struct{}) []string
	IsOnline(username string) bool
}

// MemberLookup resolves community membership.
type MemberLookup interface {
	ListCommunityMembers(ctx context.Context, communityID string) ([]string, error)
}

type Router struct {
	reg     Registry
	members MemberLookup
	log     zerolog.Logger
}

func New(reg Registry, members MemberLookup, log zerolog.Logger) *Router {
	return &Router{reg: reg, members: members, log: log}
}

// Result describes one routing pass.
type Result struct {
	// Delivered holds the connection ids that accepted the event.
	Delivered []string
	// Offline holds the target usernames with no live connection.
	Offline []string
}

// RoutePrivate delivers a two-party event to the pair room and the
// recipient's personal room in a single pass. The sender's other devices
// joined to the pair room receive it too.
func (r *Router) RoutePrivate(t event.Type, sender, recipient string, payload any) (Result, error) {
	frame, err := event.Encode(t, payload)
	if err != nil {
		return Result{}, err
	}
	keys := []room.Key{
		room.Private(sender, recipient).Key(),
		room.Personal(recipient).Key(),
	}
	res := Result{Delivered: r.reg.Deliver(keys, frame, nil)}
	if !r.reg.IsOnline(recipient) {
		res.Offline = []string{recipient}
	}
	metrics.EventsRoutedTotal.WithLabelValues(string(t)).Inc()
	return res, nil
}

// RouteCommunity delivers to the community room first and then to the
// personal room of every member except the sender, skipping connections
// already served. A failed member lookup leaves the room delivery in place.
func (r *Router) RouteCommunity(ctx context.Context, t event.Type, communityID, sender string, payload any) (Result, error) {
	frame, err := event.Encode(t, payload)
	if err != nil {
		return Result{}, err
	}
	metrics.EventsRoutedTotal.WithLabelValues(string(t)).Inc()

	delivered := r.reg.Deliver([]room.Key{room.Community(communityID).Key()}, frame, nil)
	res := Result{Delivered: delivered}

	members, err := r.members.ListCommunityMembers(ctx, communityID)
	if err != nil {
		r.log.Error().Err(err).Str("community_id", communityID).Msg("list community members")
		return res, nil
	}

	served := make(map[string]struct{}, len(delivered))
	for _, id := range delivered {
		served[id] = struct{}{}
	}
	keys := make([]room.Key, 0, len(members))
	for _, m := range members {
		if m == sender {
			continue
		}
		keys = append(keys, room.Personal(m).Key())
		if !r.reg.IsOnline(m) {
			res.Offline = append(res.Offline, m)
		}
	}
	res.Delivered = append(res.Delivered, r.reg.Deliver(keys, frame, served)...)
	sort.Strings(res.Offline)
	return res, nil
}

// RouteTyping relays a typing indicator live. Private indicators go to the
// recipient's personal room; community indicators go to the community room
// except the originating connection.
func (r *Router) RouteTyping(t event.Type, p event.Typing, originConn string) (Result, error) {
	if t != event.TypeTypingStart && t != event.TypeTypingStop {
		return Result{}, fmt.Errorf("route typing: unexpected type %s", t)
	}
	frame, err := event.Encode(t, p)
	if err != nil {
		return Result{}, err
	}
	metrics.EventsRoutedTotal.WithLabelValues(string(t)).Inc()
	if p.Recipient != "" {
		return Result{Delivered: r.reg.Deliver([]room.Key{room.Personal(p.Recipient).Key()}, frame, nil)}, nil
	}
	skip := map[string]struct{}{originConn: {}}
	return Result{Delivered: r.reg.Deliver([]room.Key{room.Community(p.CommunityID).Key()}, frame, skip)}, nil
}
