package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime_go/internal/event"
	"realtime_go/internal/presence"
	"realtime_go/internal/room"
	"realtime_go/internal/router"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) count(t *testing.T, typ event.Type) int {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		env, err := event.Decode(f)
		require.NoError(t, err)
		if env.Type == typ {
			n++
		}
	}
	return n
}

type MockMembers struct {
	mock.Mock
}

func (m *MockMembers) ListCommunityMembers(ctx context.Context, communityID string) ([]string, error) {
	args := m.Called(ctx, communityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func setup(t *testing.T, members router.MemberLookup) (*presence.Registry, *router.Router) {
	t.Helper()
	reg := presence.NewRegistry(nil, presence.WithAsync(func(fn func()) { fn() }))
	ctx, cancel := context.WithCancel(context.Background())
	go reg.Run(ctx)
	t.Cleanup(cancel)
	return reg, router.New(reg, members, zerolog.Nop())
}

func connect(t *testing.T, reg *presence.Registry, id, username string, keys ...room.Key) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	require.NoError(t, reg.Connect(c))
	_, err := reg.Register(id, username)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, reg.JoinRoom(id, k))
	}
	return c
}

func TestRoutePrivateExactlyOncePerConnection(t *testing.T) {
	reg, rt := setup(t, nil)
	pair := room.Private("alice", "bob").Key()

	alicePhone := connect(t, reg, "a1", "alice", pair)
	aliceLaptop := connect(t, reg, "a2", "alice")
	bob := connect(t, reg, "b1", "bob", pair)

	msg := event.PrivateMessage{ID: "m1", Sender: "alice", Recipient: "bob", Content: "hi"}
	res, err := rt.RoutePrivate(event.TypePrivateMessage, "alice", "bob", msg)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a1", "b1"}, res.Delivered)
	assert.Empty(t, res.Offline)
	assert.Equal(t, 1, bob.count(t, event.TypePrivateMessage))
	assert.Equal(t, 1, alicePhone.count(t, event.TypePrivateMessage))
	assert.Equal(t, 0, aliceLaptop.count(t, event.TypePrivateMessage))
}

func TestRoutePrivateReportsOfflineRecipient(t *testing.T) {
	reg, rt := setup(t, nil)
	connect(t, reg, "a1", "alice", room.Private("alice", "bob").Key())

	res, err := rt.RoutePrivate(event.TypePrivateMessage, "alice", "bob",
		event.PrivateMessage{Sender: "alice", Recipient: "bob", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, res.Offline)
	assert.Equal(t, []string{"a1"}, res.Delivered)
}

func TestRouteCommunityServesMembersOnce(t *testing.T) {
	members := new(MockMembers)
	members.On("ListCommunityMembers", mock.Anything, "c9").
		Return([]string{"alice", "bob", "carol", "dave"}, nil)
	reg, rt := setup(t, members)
	community := room.Community("c9").Key()

	alice := connect(t, reg, "a1", "alice", community)
	bob := connect(t, reg, "b1", "bob", community)
	carol := connect(t, reg, "c1", "carol")

	res, err := rt.RouteCommunity(context.Background(), event.TypeCommunityMessage, "c9", "alice",
		event.CommunityMessage{CommunityID: "c9", Sender: "alice", Content: "hello"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a1", "b1", "c1"}, res.Delivered)
	assert.Equal(t, []string{"dave"}, res.Offline)
	assert.Equal(t, 1, alice.count(t, event.TypeCommunityMessage))
	assert.Equal(t, 1, bob.count(t, event.TypeCommunityMessage))
	assert.Equal(t, 1, carol.count(t, event.TypeCommunityMessage))
}

func TestRouteCommunityLookupFailureKeepsLiveDelivery(t *testing.T) {
	members := new(MockMembers)
	members.On("ListCommunityMembers", mock.Anything, "c9").Return(nil, errors.New("db down"))
	reg, rt := setup(t, members)

	bob := connect(t, reg, "b1", "bob", room.Community("c9").Key())

	res, err := rt.RouteCommunity(context.Background(), event.TypeCommunityMessage, "c9", "alice",
		event.CommunityMessage{CommunityID: "c9", Sender: "alice", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, res.Delivered)
	assert.Empty(t, res.Offline)
	assert.Equal(t, 1, bob.count(t, event.TypeCommunityMessage))
}

func TestRouteTyping(t *testing.T) {
	reg, rt := setup(t, nil)
	community := room.Community("c9").Key()
	alice := connect(t, reg, "a1", "alice", community)
	bob := connect(t, reg, "b1", "bob", community)

	_, err := rt.RouteTyping(event.TypeTypingStart, event.Typing{Sender: "alice", Recipient: "bob"}, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, bob.count(t, event.TypeTypingStart))
	assert.Equal(t, 0, alice.count(t, event.TypeTypingStart))

	res, err := rt.RouteTyping(event.TypeTypingStop, event.Typing{Sender: "alice", CommunityID: "c9"}, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, res.Delivered)
	assert.Equal(t, 0, alice.count(t, event.TypeTypingStop))

	_, err = rt.RouteTyping(event.TypePrivateMessage, event.Typing{}, "a1")
	assert.Error(t, err)
}
