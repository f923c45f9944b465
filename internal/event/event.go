// Package event defines the connection-level protocol: a named event type and
// a typed JSON payload per type.
package event

import (
	"encoding/json"
	"fmt"

	"realtime_go/internal/domain"
)

type Type string

const (
	TypeRegister  Type = "register"
	TypeJoinRoom  Type = "join_room"
	TypeLeaveRoom Type = "leave_room"

	TypePrivateMessage   Type = "private_message"
	TypeEditMessage      Type = "edit_message"
	TypeDeleteMessage    Type = "delete_message"
	TypeCommunityMessage Type = "community_message"
	TypeTypingStart      Type = "typing_start"
	TypeTypingStop       Type = "typing_stop"

	TypeCallInitiate Type = "call_initiate"
	TypeIncomingCall Type = "incoming_call"
	TypeCallAccept   Type = "call_accept"
	TypeCallAccepted Type = "call_accepted"
	TypeCallDecline  Type = "call_decline"
	TypeCallSignal   Type = "call_signal"
	TypeCallEnd      Type = "call_end"
	TypeCallJoin     Type = "call_join"
	TypeCallLeave    Type = "call_leave"

	TypeOnlineUsers Type = "online_users"
	TypeError       Type = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Payload is implemented by every inbound payload; Validate rejects malformed
// events before any side effect.
type Payload interface {
	Validate() error
}

// Encode serialises payload under the given type.
func Encode(t Type, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// Decode parses a raw frame into an envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing event type", domain.ErrInvalidInput)
	}
	return env, nil
}

// Into unmarshals the envelope data into p and validates it.
func (e Envelope) Into(p Payload) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", domain.ErrInvalidInput, e.Type)
	}
	if err := json.Unmarshal(e.Data, p); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, e.Type, err)
	}
	return p.Validate()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidInput}, args...)...)
}
