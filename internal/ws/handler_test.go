package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_go/internal/call"
	"realtime_go/internal/dedup"
	"realtime_go/internal/domain"
	"realtime_go/internal/event"
	"realtime_go/internal/presence"
	"realtime_go/internal/router"
	"realtime_go/internal/security"
	"realtime_go/internal/service"
	"realtime_go/internal/store/sqlite"
	"realtime_go/internal/ws"
)

type env struct {
	srv    *httptest.Server
	tokens *security.TokenService
	reg    *presence.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zerolog.Nop()

	db, err := sqlite.Open("file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, sqlite.Migrate(db))
	store := sqlite.NewStore(db)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, store.UpsertUser(ctx, &domain.User{Username: u}))
	}

	reg := presence.NewRegistry(store, presence.WithLogger(log))
	runCtx, cancel := context.WithCancel(context.Background())
	go reg.Run(runCtx)

	enc, err := security.NewEncryptor("test-secret")
	require.NoError(t, err)
	window := dedup.New(8 * time.Second)
	rt := router.New(reg, store, log)
	msgs := service.NewMessageService(store, rt, nil, enc, window, log)
	calls := call.NewManager(call.Deps{Signals: reg, Logs: store, Accounts: store, Members: store}, log)

	tokens := security.NewTokenService("jwt-secret", time.Hour)
	srv := httptest.NewServer(ws.MakeHandler(ws.Deps{
		Registry:       reg,
		Tokens:         tokens,
		Messages:       msgs,
		Calls:          calls,
		AllowedOrigins: []string{"http://localhost:3000"},
		SendBuffer:     16,
		Log:            log,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		db.Close()
	})
	return &env{srv: srv, tokens: tokens, reg: reg}
}

func (e *env) url() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http")
}

func (e *env) dial(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	token, err := e.tokens.Issue(username)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(e.url(), h)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *env) dialRegistered(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, username)
	send(t, conn, event.TypeRegister, event.Register{Username: username})
	readUntil(t, conn, event.TypeOnlineUsers)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ event.Type, payload any) {
	t.Helper()
	frame, err := event.Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readUntil(t *testing.T, conn *websocket.Conn, typ event.Type) event.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := event.Decode(raw)
		require.NoError(t, err)
		if env.Type == typ {
			return env
		}
	}
}

func TestRejectsMissingToken(t *testing.T) {
	e := newEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial(e.url(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsForeignOrigin(t *testing.T) {
	e := newEnv(t)
	token, err := e.tokens.Issue("alice")
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(e.url(), h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTokenViaSubprotocol(t *testing.T) {
	e := newEnv(t)
	token, err := e.tokens.Issue("alice")
	require.NoError(t, err)
	dialer := websocket.Dialer{Subprotocols: []string{"bearer", token}}
	conn, _, err := dialer.Dial(e.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, event.TypeRegister, event.Register{Username: "alice"})
	env := readUntil(t, conn, event.TypeOnlineUsers)
	var snap event.OnlineUsers
	require.NoError(t, env.Into(&snap))
	assert.Equal(t, []string{"alice"}, snap.Users)
}

func TestRegisterMustMatchToken(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "alice")

	send(t, conn, event.TypeRegister, event.Register{Username: "bob"})
	env := readUntil(t, conn, event.TypeError)
	var e2 event.Error
	require.NoError(t, env.Into(&e2))
	assert.Equal(t, event.TypeRegister, e2.Ref)
	assert.False(t, e.reg.IsOnline("bob"))
}

func TestEventsBeforeRegisterAreRejected(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "alice")

	send(t, conn, event.TypeTypingStart, event.Typing{Sender: "alice", Recipient: "bob"})
	env := readUntil(t, conn, event.TypeError)
	var e2 event.Error
	require.NoError(t, env.Into(&e2))
	assert.Contains(t, e2.Message, "register first")
}

func TestPrivateMessageReachesRecipient(t *testing.T) {
	e := newEnv(t)
	alice := e.dialRegistered(t, "alice")
	bob := e.dialRegistered(t, "bob")

	send(t, alice, event.TypePrivateMessage, event.PrivateMessage{
		Sender: "alice", Recipient: "bob", Content: "hi bob",
	})
	env := readUntil(t, bob, event.TypePrivateMessage)
	var msg event.PrivateMessage
	require.NoError(t, env.Into(&msg))
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hi bob", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestSpoofedSenderIsRejected(t *testing.T) {
	e := newEnv(t)
	alice := e.dialRegistered(t, "alice")
	e.dialRegistered(t, "bob")

	send(t, alice, event.TypePrivateMessage, event.PrivateMessage{
		Sender: "bob", Recipient: "alice", Content: "not me",
	})
	env := readUntil(t, alice, event.TypeError)
	var e2 event.Error
	require.NoError(t, env.Into(&e2))
	assert.Equal(t, event.TypePrivateMessage, e2.Ref)
}

func TestUnknownEventType(t *testing.T) {
	e := newEnv(t)
	alice := e.dialRegistered(t, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance","data":{}}`)))
	env := readUntil(t, alice, event.TypeError)
	var e2 event.Error
	require.NoError(t, env.Into(&e2))
	assert.Contains(t, e2.Message, "unknown event type")
}

func TestDisconnectTakesUserOffline(t *testing.T) {
	e := newEnv(t)
	alice := e.dialRegistered(t, "alice")
	bob := e.dialRegistered(t, "bob")
	require.True(t, e.reg.IsOnline("bob"))

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return !e.reg.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)

	for {
		env := readUntil(t, alice, event.TypeOnlineUsers)
		var snap event.OnlineUsers
		require.NoError(t, env.Into(&snap))
		if len(snap.Users) == 1 {
			assert.Equal(t, []string{"alice"}, snap.Users)
			return
		}
	}
}

func TestCallRingsCallee(t *testing.T) {
	e := newEnv(t)
	alice := e.dialRegistered(t, "alice")
	bob := e.dialRegistered(t, "bob")

	send(t, alice, event.TypeCallInitiate, event.CallInitiate{
		Caller: "alice", Callee: "bob", CallType: domain.CallVideo,
	})
	env := readUntil(t, bob, event.TypeIncomingCall)
	var in event.CallInitiate
	require.NoError(t, env.Into(&in))
	require.NotEmpty(t, in.CallID)

	send(t, bob, event.TypeCallDecline, event.CallAction{CallID: in.CallID, From: "bob"})
	env = readUntil(t, alice, event.TypeCallEnd)
	var end event.CallAction
	require.NoError(t, env.Into(&end))
	assert.Equal(t, call.ReasonDeclined, end.Reason)
}
