// Package call runs the call signalling state machine: one in-memory session
// per call, ring timeouts, relay of negotiation payloads and an append-only
// call log.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"realtime_go/internal/domain"
	"realtime_go/internal/event"
	"realtime_go/internal/metrics"
	"realtime_go/internal/notify"
)

var (
	ErrUnknownCall   = fmt.Errorf("unknown call: %w", domain.ErrNotFound)
	ErrNotParty      = fmt.Errorf("not a party to the call: %w", domain.ErrForbidden)
	ErrBadTransition = fmt.Errorf("invalid call transition: %w", domain.ErrConflict)
	ErrDuplicateCall = fmt.Errorf("call id already in use: %w", domain.ErrConflict)
)

const (
	ReasonEnded        = "ended"
	ReasonDeclined     = "declined"
	ReasonMissed       = "missed"
	ReasonDisconnected = "disconnected"
)

// Signaler delivers frames to every live connection of a user.
type Signaler interface {
	DeliverToUser(username string, frame []byte) int
	IsOnline(username string) bool
}

type LogWriter interface {
	CreateCallLog(ctx context.Context, l *domain.CallLog) error
}

type Accounts interface {
	GetUser(ctx context.Context, username string) (*domain.User, error)
}

type Members interface {
	ListCommunityMembers(ctx context.Context, communityID string) ([]string, error)
}

type Notifier interface {
	Wants(category string, online bool) bool
	Enqueue(req notify.Request) bool
}

type Deps struct {
	Signals  Signaler
	Logs     LogWriter
	Accounts Accounts
	Members  Members
	Notifier Notifier
}

type Manager struct {
	deps        Deps
	log         zerolog.Logger
	now         func() time.Time
	async       func(func())
	ringTimeout time.Duration
	retain      time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	// outstanding maps a callee to the ids of calls still ringing them.
	outstanding map[string]map[string]struct{}
}

type Option func(*Manager)

func WithRingTimeout(d time.Duration) Option {
	return func(m *Manager) { m.ringTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAsync overrides how call-log writes are scheduled.
func WithAsync(async func(func())) Option {
	return func(m *Manager) { m.async = async }
}

// WithRetention sets how long finished sessions stay inspectable.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retain = d }
}

func NewManager(deps Deps, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		deps:        deps,
		log:         log,
		now:         time.Now,
		async:       func(fn func()) { go fn() },
		ringTimeout: 45 * time.Second,
		retain:      10 * time.Minute,
		sessions:    make(map[string]*session),
		outstanding: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the session.
func (m *Manager) Get(callID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok {
		return Session{}, ErrUnknownCall
	}
	return s.snapshot(), nil
}

// Start creates a call, logs it as initiated and rings the callee (or every
// invitee of a group call). Offline targets get a push.
func (m *Manager) Start(ctx context.Context, p event.CallInitiate) (Session, error) {
	if err := p.Validate(); err != nil {
		return Session{}, err
	}
	if p.CallID == "" {
		p.CallID = uuid.NewString()
	}
	if p.CallerName == "" {
		p.CallerName = m.displayName(ctx, p.Caller)
	}

	var invitees []string
	if p.CommunityID != "" {
		var err error
		invitees, err = m.invitees(ctx, p)
		if err != nil {
			return Session{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)
	if _, exists := m.sessions[p.CallID]; exists {
		return Session{}, ErrDuplicateCall
	}

	s := &session{
		id:          p.CallID,
		caller:      p.Caller,
		callerName:  p.CallerName,
		callee:      p.Callee,
		communityID: p.CommunityID,
		typ:         p.CallType,
		state:       StateInitiated,
		startedAt:   now,
	}
	m.sessions[s.id] = s
	m.writeLog(s, s.callee, domain.CallStatusInitiated, 0)

	incoming := event.CallInitiate{
		CallID:       s.id,
		Caller:       s.caller,
		CallerName:   s.callerName,
		Callee:       s.callee,
		CommunityID:  s.communityID,
		Participants: invitees,
		CallType:     s.typ,
		Timestamp:    now,
	}

	targets := []string{s.callee}
	if s.group() {
		targets = invitees
		s.pending = make(map[string]struct{}, len(invitees))
		s.joined = map[string]struct{}{s.caller: {}}
		for _, u := range invitees {
			s.pending[u] = struct{}{}
		}
	} else {
		m.addOutstanding(s.callee, s.id)
	}

	rang := false
	for _, target := range targets {
		delivered := m.send(target, event.TypeIncomingCall, incoming)
		if delivered > 0 {
			rang = true
		}
		if m.deps.Notifier != nil && m.deps.Notifier.Wants(notify.CategoryCall, delivered > 0) {
			m.deps.Notifier.Enqueue(incomingPush(s, target))
		}
	}
	if rang {
		s.state = StateRinging
	}

	id := s.id
	s.timer = time.AfterFunc(m.ringTimeout, func() { m.ringExpired(id) })

	m.log.Info().Str("call_id", s.id).Str("caller", s.caller).Str("callee", s.callee).
		Str("community_id", s.communityID).Str("state", string(s.state)).Msg("call started")
	return s.snapshot(), nil
}

// Accept answers a two-party call; for group calls it is the same as Join.
func (m *Manager) Accept(p event.CallAction) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[p.CallID]
	if !ok {
		return Session{}, ErrUnknownCall
	}
	if s.group() {
		return m.join(s, p.From)
	}
	if p.From != s.callee {
		return Session{}, ErrNotParty
	}
	if !CanTransition(s.state, StateAccepted) {
		return Session{}, ErrBadTransition
	}

	s.state = StateAccepted
	s.answeredAt = m.now()
	s.stopTimer()
	m.removeOutstanding(s.callee, s.id)

	m.send(s.caller, event.TypeCallAccepted, event.CallAction{CallID: s.id, From: p.From})
	return s.snapshot(), nil
}

// Decline rejects a call before it is answered.
func (m *Manager) Decline(p event.CallAction) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[p.CallID]
	if !ok {
		return Session{}, ErrUnknownCall
	}
	if s.group() {
		return m.declineGroup(s, p.From)
	}
	if p.From != s.callee {
		return Session{}, ErrNotParty
	}
	if !CanTransition(s.state, StateDeclined) {
		return Session{}, ErrBadTransition
	}
	m.decline(s)
	return s.snapshot(), nil
}

// End hangs up. Before an answer the caller cancelling ends the call with
// zero duration, the callee ending it declines.
func (m *Manager) End(p event.CallAction) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[p.CallID]
	if !ok {
		return Session{}, ErrUnknownCall
	}
	if !s.party(p.From) {
		return Session{}, ErrNotParty
	}
	if s.state.Terminal() {
		return Session{}, ErrBadTransition
	}
	reason := p.Reason
	if reason == "" {
		reason = ReasonEnded
	}

	if s.group() {
		if _, invited := s.pending[p.From]; invited {
			return m.declineGroup(s, p.From)
		}
		if p.From != s.caller {
			m.leave(s, p.From)
			return s.snapshot(), nil
		}
		m.end(s, p.From, reason)
		return s.snapshot(), nil
	}
	if p.From == s.callee && !s.state.Answered() {
		m.decline(s)
		return s.snapshot(), nil
	}
	m.end(s, p.From, reason)
	return s.snapshot(), nil
}

// Relay forwards a negotiation payload verbatim. It is never gated on call
// state; an explicit To is honoured even for calls this process does not know.
func (m *Manager) Relay(p event.CallSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, known := m.sessions[p.CallID]
	if known && !s.party(p.From) {
		return ErrNotParty
	}
	var targets []string
	switch {
	case p.To != "":
		if known && !s.party(p.To) {
			return ErrNotParty
		}
		targets = []string{p.To}
	case !known:
		return ErrUnknownCall
	case s.group():
		for u := range s.joined {
			if u != p.From {
				targets = append(targets, u)
			}
		}
	default:
		targets = []string{s.other(p.From)}
	}

	if known && s.state == StateAccepted {
		s.state = StateActive
	}
	for _, t := range targets {
		m.send(t, event.TypeCallSignal, p)
	}
	return nil
}

// Join adds an invitee to a group call.
func (m *Manager) Join(p event.CallAction) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[p.CallID]
	if !ok {
		return Session{}, ErrUnknownCall
	}
	if !s.group() {
		return Session{}, ErrBadTransition
	}
	return m.join(s, p.From)
}

// Leave removes a participant from a group call. The call ends once nobody
// is left.
func (m *Manager) Leave(p event.CallAction) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[p.CallID]
	if !ok {
		return Session{}, ErrUnknownCall
	}
	if !s.group() {
		return Session{}, ErrBadTransition
	}
	if _, in := s.joined[p.From]; !in {
		return Session{}, ErrNotParty
	}
	m.leave(s, p.From)
	return s.snapshot(), nil
}

// Disconnected resolves the calls of a user whose last connection closed:
// calls still ringing them become missed, unanswered calls they placed are
// cancelled, answered calls end and group calls see them leave.
func (m *Manager) Disconnected(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.outstanding[username] {
		if s, ok := m.sessions[id]; ok && !s.state.Terminal() && !s.state.Answered() {
			m.missed(s)
		}
	}
	delete(m.outstanding, username)

	for _, s := range m.sessions {
		if s.state.Terminal() || !s.party(username) {
			continue
		}
		if s.group() {
			if _, in := s.joined[username]; in {
				m.leave(s, username)
			} else {
				delete(s.pending, username)
			}
			continue
		}
		m.end(s, username, ReasonDisconnected)
	}
}

// ── transitions (m.mu held) ─────────────────────────────────────────────────

func (m *Manager) join(s *session, username string) (Session, error) {
	if s.state.Terminal() {
		return Session{}, ErrBadTransition
	}
	if _, in := s.joined[username]; in {
		return s.snapshot(), nil
	}
	if _, invited := s.pending[username]; !invited {
		return Session{}, ErrNotParty
	}
	delete(s.pending, username)
	s.joined[username] = struct{}{}
	if !s.state.Answered() {
		s.state = StateAccepted
		s.answeredAt = m.now()
		s.stopTimer()
	}
	for u := range s.joined {
		if u != username {
			m.send(u, event.TypeCallJoin, event.CallAction{CallID: s.id, From: username})
		}
	}
	return s.snapshot(), nil
}

func (m *Manager) leave(s *session, username string) {
	delete(s.joined, username)
	for u := range s.joined {
		m.send(u, event.TypeCallLeave, event.CallAction{CallID: s.id, From: username})
	}
	if len(s.joined) == 0 {
		m.end(s, username, ReasonEnded)
	}
}

func (m *Manager) declineGroup(s *session, username string) (Session, error) {
	if _, invited := s.pending[username]; !invited {
		return Session{}, ErrNotParty
	}
	delete(s.pending, username)
	m.writeLog(s, username, domain.CallStatusDeclined, 0)
	m.send(s.caller, event.TypeCallDecline, event.CallAction{CallID: s.id, From: username})

	if len(s.pending) == 0 && !s.state.Answered() && !s.state.Terminal() {
		m.finish(s, StateDeclined, ReasonDeclined, 0)
		m.send(s.caller, event.TypeCallEnd, event.CallAction{CallID: s.id, From: username, Reason: ReasonDeclined})
	}
	return s.snapshot(), nil
}

func (m *Manager) decline(s *session) {
	m.finish(s, StateDeclined, ReasonDeclined, 0)
	m.writeLog(s, s.callee, domain.CallStatusDeclined, 0)
	m.send(s.caller, event.TypeCallEnd, event.CallAction{CallID: s.id, From: s.callee, Reason: ReasonDeclined})
}

// end moves s to ended and tells everyone except from.
func (m *Manager) end(s *session, from, reason string) {
	duration := 0
	if s.state.Answered() {
		duration = int(m.now().Sub(s.answeredAt) / time.Second)
	}
	m.finish(s, StateEnded, reason, duration)
	m.writeLog(s, s.callee, domain.CallStatusEnded, duration)

	msg := event.CallAction{CallID: s.id, From: from, Reason: reason, Duration: duration}
	if !s.group() {
		m.send(s.other(from), event.TypeCallEnd, msg)
		return
	}
	for u := range s.joined {
		if u != from {
			m.send(u, event.TypeCallEnd, msg)
		}
	}
	for u := range s.pending {
		m.send(u, event.TypeCallEnd, msg)
	}
}

func (m *Manager) missed(s *session) {
	m.finish(s, StateMissed, ReasonMissed, 0)
	m.send(s.caller, event.TypeCallEnd, event.CallAction{CallID: s.id, From: s.caller, Reason: ReasonMissed})

	targets := []string{s.callee}
	if s.group() {
		targets = setToSlice(s.pending)
	}
	for _, u := range targets {
		m.writeLog(s, u, domain.CallStatusMissed, 0)
		if s.group() {
			m.send(u, event.TypeCallEnd, event.CallAction{CallID: s.id, From: s.caller, Reason: ReasonMissed})
		}
		if m.deps.Notifier != nil {
			m.deps.Notifier.Enqueue(missedPush(s, u))
		}
	}
}

func (m *Manager) ringExpired(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok || s.state.Terminal() || s.state.Answered() {
		return
	}
	m.log.Info().Str("call_id", callID).Msg("ring timeout")
	m.missed(s)
}

func (m *Manager) finish(s *session, state State, reason string, duration int) {
	s.state = state
	s.reason = reason
	s.duration = duration
	s.endedAt = m.now()
	s.stopTimer()
	if !s.group() {
		m.removeOutstanding(s.callee, s.id)
	}
	metrics.CallsTotal.WithLabelValues(string(state), string(s.typ)).Inc()
	m.log.Info().Str("call_id", s.id).Str("state", string(state)).Str("reason", reason).
		Int("duration", duration).Msg("call finished")
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// ── helpers ─────────────────────────────────────────────────────────────────

func (m *Manager) send(username string, t event.Type, payload any) int {
	if username == "" || m.deps.Signals == nil {
		return 0
	}
	frame, err := event.Encode(t, payload)
	if err != nil {
		m.log.Error().Err(err).Str("type", string(t)).Msg("encode call event")
		return 0
	}
	n := m.deps.Signals.DeliverToUser(username, frame)
	metrics.EventsRoutedTotal.WithLabelValues(string(t)).Inc()
	return n
}

// writeLog appends a call-log row. Rows about a group call as a whole carry the
// community id as receiver; per-invitee rows carry the invitee.
func (m *Manager) writeLog(s *session, receiver string, status domain.CallStatus, duration int) {
	if m.deps.Logs == nil {
		return
	}
	if receiver == "" && s.group() {
		receiver = s.communityID
	}
	row := &domain.CallLog{
		CallID:    s.id,
		Caller:    s.caller,
		Receiver:  receiver,
		Status:    status,
		Type:      s.typ,
		Duration:  duration,
		CreatedAt: m.now().UTC(),
	}
	if s.group() {
		id := s.communityID
		row.CommunityID = &id
	}
	m.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.deps.Logs.CreateCallLog(ctx, row); err != nil {
			m.log.Warn().Err(err).Str("call_id", row.CallID).Str("status", string(status)).Msg("write call log")
		}
	})
}

func (m *Manager) addOutstanding(callee, id string) {
	if m.outstanding[callee] == nil {
		m.outstanding[callee] = make(map[string]struct{})
	}
	m.outstanding[callee][id] = struct{}{}
}

func (m *Manager) removeOutstanding(callee, id string) {
	ids := m.outstanding[callee]
	delete(ids, id)
	if len(ids) == 0 {
		delete(m.outstanding, callee)
	}
}

func (m *Manager) prune(now time.Time) {
	for id, s := range m.sessions {
		if s.state.Terminal() && now.Sub(s.endedAt) > m.retain {
			delete(m.sessions, id)
		}
	}
}

func (m *Manager) displayName(ctx context.Context, username string) string {
	if m.deps.Accounts == nil {
		return username
	}
	u, err := m.deps.Accounts.GetUser(ctx, username)
	if err != nil {
		m.log.Debug().Err(err).Str("username", username).Msg("caller lookup")
		return username
	}
	return u.Name()
}

func (m *Manager) invitees(ctx context.Context, p event.CallInitiate) ([]string, error) {
	candidates := p.Participants
	if len(candidates) == 0 {
		if m.deps.Members == nil {
			return nil, fmt.Errorf("%w: group call without participants", domain.ErrInvalidInput)
		}
		members, err := m.deps.Members.ListCommunityMembers(ctx, p.CommunityID)
		if err != nil {
			return nil, fmt.Errorf("list community members: %w", err)
		}
		candidates = members
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, u := range candidates {
		if u != "" && u != p.Caller {
			seen[u] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: nobody to call", domain.ErrInvalidInput)
	}
	return setToSlice(seen), nil
}

func incomingPush(s *session, target string) notify.Request {
	return notify.Request{
		Target:   target,
		Category: notify.CategoryCall,
		Title:    "{caller_name}",
		Body:     "Incoming {call_type} call",
		Data: map[string]string{
			"call_id":      s.id,
			"caller":       s.caller,
			"caller_name":  s.callerName,
			"call_type":    string(s.typ),
			"community_id": s.communityID,
		},
		MessageID: s.id,
		Sender:    s.caller,
	}
}

func missedPush(s *session, target string) notify.Request {
	return notify.Request{
		Target:   target,
		Category: notify.CategoryMissedCall,
		Title:    "Missed {call_type} call",
		Body:     "{caller_name} tried to call you",
		Data: map[string]string{
			"call_id":     s.id,
			"caller":      s.caller,
			"caller_name": s.callerName,
			"call_type":   string(s.typ),
		},
		MessageID: s.id,
		Sender:    s.caller,
	}
}
