package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"realtime_go/internal/domain"
	"realtime_go/internal/event"
)

var errNotRegistered = fmt.Errorf("%w: register first", domain.ErrForbidden)

// session is the per-connection state of the read loop.
type session struct {
	deps     Deps
	client   *Client
	subject  string
	username string
	log      zerolog.Logger
}

func (s *session) handle(ctx context.Context, raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		s.sendError("", err)
		return
	}
	if err := s.dispatch(ctx, env); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return
		}
		s.sendError(env.Type, err)
	}
}

func (s *session) dispatch(ctx context.Context, env event.Envelope) error {
	if env.Type != event.TypeRegister && s.username == "" {
		return errNotRegistered
	}

	switch env.Type {

	// ── Presence ─────────────────────────────────────────────────────────────
	case event.TypeRegister:
		var p event.Register
		if err := env.Into(&p); err != nil {
			return err
		}
		if p.Username != s.subject {
			return fmt.Errorf("%w: username does not match token", domain.ErrForbidden)
		}
		res, err := s.deps.Registry.Register(s.client.ID(), p.Username)
		if err != nil {
			return err
		}
		s.username = p.Username
		if res.PreviousWentOffline && s.deps.Calls != nil {
			s.deps.Calls.Disconnected(res.Previous)
		}
		return nil

	case event.TypeJoinRoom, event.TypeLeaveRoom:
		var p event.RoomRef
		if err := env.Into(&p); err != nil {
			return err
		}
		rm, err := p.Resolve(s.username)
		if err != nil {
			return err
		}
		if env.Type == event.TypeJoinRoom {
			return s.deps.Registry.JoinRoom(s.client.ID(), rm.Key())
		}
		return s.deps.Registry.LeaveRoom(s.client.ID(), rm.Key())

	// ── Messages ─────────────────────────────────────────────────────────────
	case event.TypePrivateMessage:
		var p event.PrivateMessage
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.Sender); err != nil {
			return err
		}
		_, err := s.deps.Messages.SendPrivate(ctx, p)
		return err

	case event.TypeEditMessage:
		var p event.EditMessage
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.Sender); err != nil {
			return err
		}
		_, err := s.deps.Messages.EditMessage(ctx, p)
		return err

	case event.TypeDeleteMessage:
		var p event.DeleteMessage
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.Sender); err != nil {
			return err
		}
		return s.deps.Messages.DeleteMessage(ctx, p)

	case event.TypeCommunityMessage:
		var p event.CommunityMessage
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.Sender); err != nil {
			return err
		}
		_, err := s.deps.Messages.SendCommunity(ctx, p)
		return err

	case event.TypeTypingStart, event.TypeTypingStop:
		var p event.Typing
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.Sender); err != nil {
			return err
		}
		return s.deps.Messages.Typing(env.Type, p, s.client.ID())

	// ── Calls ────────────────────────────────────────────────────────────────
	case event.TypeCallInitiate:
		var p event.CallInitiate
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.Caller); err != nil {
			return err
		}
		_, err := s.deps.Calls.Start(ctx, p)
		return err

	case event.TypeCallAccept, event.TypeCallDecline, event.TypeCallEnd,
		event.TypeCallJoin, event.TypeCallLeave:
		var p event.CallAction
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.From); err != nil {
			return err
		}
		return s.callAction(env.Type, p)

	case event.TypeCallSignal:
		var p event.CallSignal
		if err := env.Into(&p); err != nil {
			return err
		}
		if err := s.own(p.From); err != nil {
			return err
		}
		return s.deps.Calls.Relay(p)

	default:
		return fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, env.Type)
	}
}

func (s *session) callAction(t event.Type, p event.CallAction) error {
	var err error
	switch t {
	case event.TypeCallAccept:
		_, err = s.deps.Calls.Accept(p)
	case event.TypeCallDecline:
		_, err = s.deps.Calls.Decline(p)
	case event.TypeCallEnd:
		_, err = s.deps.Calls.End(p)
	case event.TypeCallJoin:
		_, err = s.deps.Calls.Join(p)
	case event.TypeCallLeave:
		_, err = s.deps.Calls.Leave(p)
	}
	return err
}

// own rejects events that claim another user's identity.
func (s *session) own(claimed string) error {
	if claimed != s.username {
		return fmt.Errorf("%w: sender must be %s", domain.ErrForbidden, s.username)
	}
	return nil
}

func (s *session) sendError(ref event.Type, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict):
		msg = err.Error()
	default:
		s.log.Error().Err(err).Str("event", string(ref)).Msg("event failed")
	}
	frame, encErr := event.Encode(event.TypeError, event.Error{Message: msg, Ref: ref})
	if encErr != nil {
		return
	}
	s.client.Send(frame)
}

func (s *session) disconnect() {
	s.client.close()
	res, err := s.deps.Registry.Disconnect(s.client.ID())
	if err != nil {
		return
	}
	if res.WentOffline && s.deps.Calls != nil {
		s.deps.Calls.Disconnected(res.Username)
	}
}
