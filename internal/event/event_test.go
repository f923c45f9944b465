package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_go/internal/domain"
	"realtime_go/internal/event"
	"realtime_go/internal/room"
)

func TestEncodeDecode(t *testing.T) {
	raw, err := event.Encode(event.TypePrivateMessage, event.PrivateMessage{
		ID: "m1", Sender: "alice", Recipient: "bob", Content: "hi",
	})
	require.NoError(t, err)

	env, err := event.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, event.TypePrivateMessage, env.Type)

	var pm event.PrivateMessage
	require.NoError(t, env.Into(&pm))
	assert.Equal(t, "hi", pm.Content)
	assert.Equal(t, "bob", pm.Recipient)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := event.Decode([]byte("not json"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = event.Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		typ  event.Type
		data string
		into event.Payload
	}{
		{"message without recipient", event.TypePrivateMessage, `{"sender":"alice","content":"x"}`, &event.PrivateMessage{}},
		{"message to self", event.TypePrivateMessage, `{"sender":"a","recipient":"a","content":"x"}`, &event.PrivateMessage{}},
		{"empty message", event.TypePrivateMessage, `{"sender":"a","recipient":"b"}`, &event.PrivateMessage{}},
		{"call without callee", event.TypeCallInitiate, `{"caller":"alice","call_type":"video"}`, &event.CallInitiate{}},
		{"call with both targets", event.TypeCallInitiate, `{"caller":"alice","callee":"bob","community_id":"c","call_type":"audio"}`, &event.CallInitiate{}},
		{"call bad type", event.TypeCallInitiate, `{"caller":"alice","callee":"bob","call_type":"hologram"}`, &event.CallInitiate{}},
		{"action without call id", event.TypeCallAccept, `{"from":"bob"}`, &event.CallAction{}},
		{"typing both", event.TypeTypingStart, `{"sender":"a","recipient":"b","community_id":"c"}`, &event.Typing{}},
		{"signal without kind", event.TypeCallSignal, `{"call_id":"c","from":"a"}`, &event.CallSignal{}},
		{"no data", event.TypeRegister, ``, &event.Register{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := event.Envelope{Type: tt.typ}
			if tt.data != "" {
				env.Data = json.RawMessage(tt.data)
			}
			assert.ErrorIs(t, env.Into(tt.into), domain.ErrInvalidInput)
		})
	}
}

func TestRoomRefResolve(t *testing.T) {
	ref := event.RoomRef{Kind: room.KindPrivate, Peer: "bob"}
	require.NoError(t, ref.Validate())
	r, err := ref.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, room.Private("bob", "alice").Key(), r.Key())

	self := event.RoomRef{Kind: room.KindPrivate, Peer: "alice"}
	_, err = self.Resolve("alice")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	bad := event.RoomRef{Kind: room.KindPersonal}
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidInput)
}
