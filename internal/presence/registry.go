// Package presence owns the set of live connections, which user each one
// belongs to and which rooms each one has joined.
//
// All state is confined to a single goroutine (Run). Every operation,
// including read-only queries such as IsOnline, is executed on that goroutine,
// so a disconnect and a routing decision can never interleave.
package presence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"realtime_go/internal/event"
	"realtime_go/internal/metrics"
	"realtime_go/internal/room"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotRegistered     = errors.New("connection is not registered")
	ErrClosed            = errors.New("registry closed")
)

// Conn is a live connection as seen by the registry.
type Conn interface {
	ID() string
	// Send enqueues a frame without blocking. False means the frame was dropped.
	Send(frame []byte) bool
}

// StatusWriter persists presence changes. Calls are best-effort.
type StatusWriter interface {
	SetOnlineStatus(ctx context.Context, username string, isOnline bool) error
	SetLastSeen(ctx context.Context, username string, at time.Time) error
}

type entry struct {
	conn     Conn
	username string
	rooms    map[room.Key]struct{}
}

type state struct {
	conns map[string]*entry
	rooms map[room.Key]map[string]struct{}
	users map[string]map[string]struct{}
}

type Registry struct {
	reqs    chan func(*state)
	stopped chan struct{}

	status         StatusWriter
	log            zerolog.Logger
	now            func() time.Time
	async          func(func())
	persistTimeout time.Duration
}

type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithAsync overrides how persistence side effects are scheduled.
func WithAsync(async func(func())) Option {
	return func(r *Registry) { r.async = async }
}

func NewRegistry(status StatusWriter, opts ...Option) *Registry {
	r := &Registry{
		reqs:           make(chan func(*state)),
		stopped:        make(chan struct{}),
		status:         status,
		log:            zerolog.Nop(),
		now:            time.Now,
		async:          func(fn func()) { go fn() },
		persistTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run serves registry operations until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	s := &state{
		conns: make(map[string]*entry),
		rooms: make(map[room.Key]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
	}
	defer close(r.stopped)
	for {
		select {
		case fn := <-r.reqs:
			fn(s)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) do(fn func(*state)) error {
	done := make(chan struct{})
	select {
	case r.reqs <- func(s *state) { fn(s); close(done) }:
	case <-r.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrClosed
	}
}

// Connect starts tracking a connection that has not registered yet.
func (r *Registry) Connect(c Conn) error {
	return r.do(func(s *state) {
		s.conns[c.ID()] = &entry{conn: c, rooms: make(map[room.Key]struct{})}
		metrics.LiveConnections.Set(float64(len(s.conns)))
	})
}

type RegisterResult struct {
	// WentOnline is true when this is the user's first live connection.
	WentOnline bool
	// Previous is the username the connection was bound to before a rebind.
	Previous string
	// PreviousWentOffline is true when the rebind left Previous without connections.
	PreviousWentOffline bool
}

// Register binds a connection to username, joins it to the user's personal
// room and broadcasts the online set. Registering the same username again is
// a no-op apart from re-sending the snapshot to that connection.
func (r *Registry) Register(connID, username string) (RegisterResult, error) {
	var (
		res    RegisterResult
		opErr  error
		notify []func()
	)
	err := r.do(func(s *state) {
		e, ok := s.conns[connID]
		if !ok {
			opErr = ErrUnknownConnection
			return
		}
		if e.username == username {
			r.sendSnapshot(s, []*entry{e})
			return
		}
		if e.username != "" {
			res.Previous = e.username
			res.PreviousWentOffline = r.unbind(s, e)
			if res.PreviousWentOffline {
				prev := res.Previous
				notify = append(notify, func() { r.persistOffline(prev) })
			}
		}

		e.username = username
		if s.users[username] == nil {
			s.users[username] = make(map[string]struct{})
			res.WentOnline = true
		}
		s.users[username][connID] = struct{}{}
		r.join(s, e, room.Personal(username).Key())

		r.sendSnapshot(s, allEntries(s))
		metrics.OnlineUsers.Set(float64(len(s.users)))

		if res.WentOnline {
			notify = append(notify, func() { r.persistOnline(username) })
		}
		for _, fn := range notify {
			r.async(fn)
		}
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return res, opErr
}

// JoinRoom adds the connection to a room.
func (r *Registry) JoinRoom(connID string, key room.Key) error {
	var opErr error
	err := r.do(func(s *state) {
		e, ok := s.conns[connID]
		if !ok {
			opErr = ErrUnknownConnection
			return
		}
		r.join(s, e, key)
	})
	if err != nil {
		return err
	}
	return opErr
}

// LeaveRoom removes the connection from a room.
func (r *Registry) LeaveRoom(connID string, key room.Key) error {
	var opErr error
	err := r.do(func(s *state) {
		e, ok := s.conns[connID]
		if !ok {
			opErr = ErrUnknownConnection
			return
		}
		r.leave(s, e, key)
	})
	if err != nil {
		return err
	}
	return opErr
}

type DisconnectResult struct {
	Username    string
	WentOffline bool
}

// Disconnect forgets a connection. When it was the user's last one the user
// leaves the online set, the snapshot is broadcast and last seen is persisted
// asynchronously; persistence errors are only logged.
func (r *Registry) Disconnect(connID string) (DisconnectResult, error) {
	var res DisconnectResult
	err := r.do(func(s *state) {
		e, ok := s.conns[connID]
		if !ok {
			return
		}
		delete(s.conns, connID)
		metrics.LiveConnections.Set(float64(len(s.conns)))

		res.Username = e.username
		if e.username != "" {
			res.WentOffline = r.unbind(s, e)
		}
		for key := range e.rooms {
			r.leave(s, e, key)
		}
		if res.WentOffline {
			r.sendSnapshot(s, allEntries(s))
			metrics.OnlineUsers.Set(float64(len(s.users)))
			username := res.Username
			r.async(func() { r.persistOffline(username) })
		}
	})
	return res, err
}

// IsOnline reports whether username holds at least one live connection.
func (r *Registry) IsOnline(username string) bool {
	var online bool
	_ = r.do(func(s *state) {
		online = len(s.users[username]) > 0
	})
	return online
}

// Online returns the sorted online set.
func (r *Registry) Online() []string {
	var users []string
	_ = r.do(func(s *state) {
		users = onlineSet(s)
	})
	return users
}

// Members returns the sorted usernames with a connection joined to key.
func (r *Registry) Members(key room.Key) []string {
	var users []string
	_ = r.do(func(s *state) {
		seen := make(map[string]struct{})
		for id := range s.rooms[key] {
			if u := s.conns[id].username; u != "" {
				seen[u] = struct{}{}
			}
		}
		users = sortedKeys(seen)
	})
	return users
}

// Username returns the user bound to connID.
func (r *Registry) Username(connID string) (string, error) {
	var (
		username string
		opErr    error
	)
	err := r.do(func(s *state) {
		e, ok := s.conns[connID]
		switch {
		case !ok:
			opErr = ErrUnknownConnection
		case e.username == "":
			opErr = ErrNotRegistered
		default:
			username = e.username
		}
	})
	if err != nil {
		return "", err
	}
	return username, opErr
}

// Deliver sends frame once to every distinct connection joined to any of
// keys, skipping connection ids in skip. It returns the ids that accepted the
// frame. Because delivery runs on the registry goroutine and each connection
// has a FIFO send queue, frames for one room reach every member in routing
// order.
func (r *Registry) Deliver(keys []room.Key, frame []byte, skip map[string]struct{}) []string {
	var delivered []string
	_ = r.do(func(s *state) {
		visited := make(map[string]struct{})
		for _, key := range keys {
			for id := range s.rooms[key] {
				if _, done := visited[id]; done {
					continue
				}
				visited[id] = struct{}{}
				if _, skipped := skip[id]; skipped {
					continue
				}
				if s.conns[id].conn.Send(frame) {
					delivered = append(delivered, id)
				} else {
					metrics.DeliveriesDroppedTotal.Inc()
				}
			}
		}
	})
	return delivered
}

// DeliverToUser sends frame to every connection of username through its
// personal room and returns the number of connections reached.
func (r *Registry) DeliverToUser(username string, frame []byte) int {
	return len(r.Deliver([]room.Key{room.Personal(username).Key()}, frame, nil))
}

// ── state helpers (registry goroutine only) ─────────────────────────────────

func (r *Registry) join(s *state, e *entry, key room.Key) {
	if s.rooms[key] == nil {
		s.rooms[key] = make(map[string]struct{})
	}
	s.rooms[key][e.conn.ID()] = struct{}{}
	e.rooms[key] = struct{}{}
}

func (r *Registry) leave(s *state, e *entry, key room.Key) {
	if members, ok := s.rooms[key]; ok {
		delete(members, e.conn.ID())
		if len(members) == 0 {
			delete(s.rooms, key)
		}
	}
	delete(e.rooms, key)
}

// unbind detaches e from its user and personal room and reports whether the
// user has no connections left.
func (r *Registry) unbind(s *state, e *entry) bool {
	r.leave(s, e, room.Personal(e.username).Key())
	conns := s.users[e.username]
	delete(conns, e.conn.ID())
	if len(conns) == 0 {
		delete(s.users, e.username)
		return true
	}
	return false
}

func (r *Registry) sendSnapshot(s *state, targets []*entry) {
	frame, err := event.Encode(event.TypeOnlineUsers, event.OnlineUsers{Users: onlineSet(s)})
	if err != nil {
		r.log.Error().Err(err).Msg("encode online snapshot")
		return
	}
	for _, e := range targets {
		if !e.conn.Send(frame) {
			metrics.DeliveriesDroppedTotal.Inc()
		}
	}
}

func allEntries(s *state) []*entry {
	out := make([]*entry, 0, len(s.conns))
	for _, e := range s.conns {
		out = append(out, e)
	}
	return out
}

func onlineSet(s *state) []string {
	users := make([]string, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ── persistence (best-effort, off the registry goroutine in production) ─────

func (r *Registry) persistOnline(username string) {
	if r.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
	defer cancel()
	if err := r.status.SetOnlineStatus(ctx, username, true); err != nil {
		r.log.Warn().Err(err).Str("username", username).Msg("set online")
	}
}

func (r *Registry) persistOffline(username string) {
	if r.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
	defer cancel()
	if err := r.status.SetLastSeen(ctx, username, r.now().UTC()); err != nil {
		r.log.Warn().Err(err).Str("username", username).Msg("persist last seen")
	}
	if err := r.status.SetOnlineStatus(ctx, username, false); err != nil {
		r.log.Warn().Err(err).Str("username", username).Msg("set offline")
	}
}
