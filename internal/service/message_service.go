package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"realtime_go/internal/dedup"
	"realtime_go/internal/domain"
	"realtime_go/internal/event"
	"realtime_go/internal/metrics"
	"realtime_go/internal/notify"
	"realtime_go/internal/room"
	"realtime_go/internal/router"
)

// Router is the routing surface the message service drives.
type Router interface {
	RoutePrivate(t event.Type, sender, recipient string, payload any) (router.Result, error)
	RouteCommunity(ctx context.Context, t event.Type, communityID, sender string, payload any) (router.Result, error)
	RouteTyping(t event.Type, p event.Typing, originConn string) (router.Result, error)
}

type Notifier interface {
	Wants(category string, online bool) bool
	Enqueue(req notify.Request) bool
}

type Sealer interface {
	Seal(plain string) (string, error)
}

// MessageStore is the persistence the message service writes to.
type MessageStore interface {
	domain.MessageRepository
	GetUser(ctx context.Context, username string) (*domain.User, error)
}

const previewRunes = 120

// MessageService is the single write path for chat events. Websocket and
// REST submissions both go through it, so the shared dedup window sees every
// copy of a message.
type MessageService struct {
	store    MessageStore
	router   Router
	notifier Notifier
	sealer   Sealer
	window   *dedup.Window
	log      zerolog.Logger

	now            func() time.Time
	async          func(func())
	persistTimeout time.Duration
}

type Option func(*MessageService)

func WithClock(now func() time.Time) Option {
	return func(s *MessageService) { s.now = now }
}

// WithAsync overrides how persistence and push work is scheduled after live
// delivery.
func WithAsync(async func(func())) Option {
	return func(s *MessageService) { s.async = async }
}

func NewMessageService(
	store MessageStore,
	rt Router,
	notifier Notifier,
	sealer Sealer,
	window *dedup.Window,
	log zerolog.Logger,
	opts ...Option,
) *MessageService {
	s := &MessageService{
		store:          store,
		router:         rt,
		notifier:       notifier,
		sealer:         sealer,
		window:         window,
		log:            log,
		now:            time.Now,
		async:          func(fn func()) { go fn() },
		persistTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendPrivate routes a two-party message live, then persists it and pushes it
// to an offline recipient. A copy already seen inside the dedup window returns
// domain.ErrDuplicate without side effects.
func (s *MessageService) SendPrivate(ctx context.Context, p event.PrivateMessage) (event.PrivateMessage, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now().UTC()
	}
	pair := room.Private(p.Sender, p.Recipient).Key()
	if s.duplicate("private", dedup.Parts{
		Category: "pm", Room: string(pair), Sender: p.Sender,
		Timestamp: p.Timestamp, Content: p.Content, MessageID: p.ID,
	}) {
		return p, domain.ErrDuplicate
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	res, err := s.router.RoutePrivate(event.TypePrivateMessage, p.Sender, p.Recipient, p)
	if err != nil {
		return p, fmt.Errorf("route private message: %w", err)
	}
	recipientOnline := len(res.Offline) == 0

	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()

		sealed, err := s.sealer.Seal(p.Content)
		if err != nil {
			s.log.Error().Err(err).Str("message_id", p.ID).Msg("seal message")
		} else {
			err := s.store.CreateMessage(ctx, &domain.Message{
				ID:        p.ID,
				Sender:    p.Sender,
				Recipient: p.Recipient,
				Content:   sealed,
				MediaURL:  p.MediaURL,
				CreatedAt: p.Timestamp,
			})
			s.logPersist(err, p.ID, "persist message")
		}

		if s.notifier == nil || !s.notifier.Wants(notify.CategoryMessage, recipientOnline) {
			return
		}
		s.notifier.Enqueue(notify.Request{
			Target:   p.Recipient,
			Category: notify.CategoryMessage,
			Title:    "{sender_name}",
			Body:     "{preview}",
			Data: map[string]string{
				"type":        string(event.TypePrivateMessage),
				"message_id":  p.ID,
				"sender":      p.Sender,
				"sender_name": s.displayName(ctx, p.Sender),
				"preview":     preview(p.Content, p.MediaURL),
			},
			MessageID: p.ID,
			Room:      string(pair),
			Sender:    p.Sender,
			Timestamp: p.Timestamp,
			Content:   p.Content,
		})
	})
	return p, nil
}

// SendCommunity routes a community message to the room and every member's
// personal room, then persists it and pushes to offline members.
func (s *MessageService) SendCommunity(ctx context.Context, p event.CommunityMessage) (event.CommunityMessage, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now().UTC()
	}
	key := room.Community(p.CommunityID).Key()
	if s.duplicate("community", dedup.Parts{
		Category: "cm", Room: string(key), Sender: p.Sender,
		Timestamp: p.Timestamp, Content: p.Content, MessageID: p.ID,
	}) {
		return p, domain.ErrDuplicate
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	res, err := s.router.RouteCommunity(ctx, event.TypeCommunityMessage, p.CommunityID, p.Sender, p)
	if err != nil {
		return p, fmt.Errorf("route community message: %w", err)
	}

	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()

		sealed, err := s.sealer.Seal(p.Content)
		if err != nil {
			s.log.Error().Err(err).Str("message_id", p.ID).Msg("seal community message")
		} else {
			err := s.store.CreateCommunityMessage(ctx, &domain.CommunityMessage{
				ID:          p.ID,
				CommunityID: p.CommunityID,
				Sender:      p.Sender,
				Content:     sealed,
				MediaURL:    p.MediaURL,
				CreatedAt:   p.Timestamp,
			})
			s.logPersist(err, p.ID, "persist community message")
		}

		if s.notifier == nil || len(res.Offline) == 0 {
			return
		}
		name := s.displayName(ctx, p.Sender)
		for _, member := range res.Offline {
			s.notifier.Enqueue(notify.Request{
				Target:   member,
				Category: notify.CategoryCommunity,
				Title:    "{sender_name}",
				Body:     "{preview}",
				Data: map[string]string{
					"type":         string(event.TypeCommunityMessage),
					"message_id":   p.ID,
					"community_id": p.CommunityID,
					"sender":       p.Sender,
					"sender_name":  name,
					"preview":      preview(p.Content, p.MediaURL),
				},
				MessageID: p.ID,
				Room:      string(key),
				Sender:    p.Sender,
				Timestamp: p.Timestamp,
				Content:   p.Content,
			})
		}
	})
	return p, nil
}

// EditMessage relays an edit live and persists it. Edits are never pushed.
func (s *MessageService) EditMessage(ctx context.Context, p event.EditMessage) (event.EditMessage, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	if p.EditedAt.IsZero() {
		p.EditedAt = s.now().UTC()
	}
	if _, err := s.router.RoutePrivate(event.TypeEditMessage, p.Sender, p.Recipient, p); err != nil {
		return p, fmt.Errorf("route edit: %w", err)
	}
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()
		sealed, err := s.sealer.Seal(p.Content)
		if err != nil {
			s.log.Error().Err(err).Str("message_id", p.ID).Msg("seal edit")
			return
		}
		s.logPersist(s.store.UpdateMessage(ctx, p.ID, p.Sender, sealed), p.ID, "persist edit")
	})
	return p, nil
}

// DeleteMessage relays a delete-for-everyone live and persists it.
func (s *MessageService) DeleteMessage(ctx context.Context, p event.DeleteMessage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.router.RoutePrivate(event.TypeDeleteMessage, p.Sender, p.Recipient, p); err != nil {
		return fmt.Errorf("route delete: %w", err)
	}
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()
		s.logPersist(s.store.DeleteMessage(ctx, p.ID, p.Sender), p.ID, "persist delete")
	})
	return nil
}

// Typing relays a typing indicator. Nothing is persisted or pushed.
func (s *MessageService) Typing(t event.Type, p event.Typing, originConn string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.router.RouteTyping(t, p, originConn)
	return err
}

func (s *MessageService) duplicate(path string, parts dedup.Parts) bool {
	if s.window == nil || !s.window.Seen(dedup.Key(parts)) {
		return false
	}
	metrics.DedupSuppressedTotal.WithLabelValues(path).Inc()
	return true
}

func (s *MessageService) logPersist(err error, id, msg string) {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		s.log.Debug().Str("message_id", id).Msg(msg + ": already stored")
	default:
		s.log.Error().Err(err).Str("message_id", id).Msg(msg)
	}
}

func (s *MessageService) displayName(ctx context.Context, username string) string {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return username
	}
	return u.Name()
}

func preview(content string, media *string) string {
	if content == "" && media != nil {
		return "Sent an attachment"
	}
	r := []rune(content)
	if len(r) > previewRunes {
		return string(r[:previewRunes-1]) + "…"
	}
	return content
}
