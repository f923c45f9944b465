package presence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime_go/internal/event"
	"realtime_go/internal/presence"
	"realtime_go/internal/room"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) envelopes(t *testing.T, typ event.Type) []event.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Envelope
	for _, f := range c.frames {
		env, err := event.Decode(f)
		require.NoError(t, err)
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) lastOnline(t *testing.T) []string {
	t.Helper()
	envs := c.envelopes(t, event.TypeOnlineUsers)
	require.NotEmpty(t, envs)
	var snap event.OnlineUsers
	require.NoError(t, envs[len(envs)-1].Into(&snap))
	return snap.Users
}

type MockStatus struct {
	mock.Mock
}

func (m *MockStatus) SetOnlineStatus(ctx context.Context, username string, isOnline bool) error {
	return m.Called(ctx, username, isOnline).Error(0)
}

func (m *MockStatus) SetLastSeen(ctx context.Context, username string, at time.Time) error {
	return m.Called(ctx, username, at).Error(0)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func startRegistry(t *testing.T, status presence.StatusWriter) *presence.Registry {
	t.Helper()
	r := presence.NewRegistry(status,
		presence.WithClock(func() time.Time { return fixedNow }),
		presence.WithAsync(func(fn func()) { fn() }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	return r
}

func connectAs(t *testing.T, r *presence.Registry, id, username string) *fakeConn {
	t.Helper()
	c := newConn(id)
	require.NoError(t, r.Connect(c))
	_, err := r.Register(id, username)
	require.NoError(t, err)
	return c
}

func TestRegisterBroadcastsOnlineSet(t *testing.T) {
	status := new(MockStatus)
	status.On("SetOnlineStatus", mock.Anything, mock.Anything, true).Return(nil)
	r := startRegistry(t, status)

	alice := connectAs(t, r, "c1", "alice")
	bob := connectAs(t, r, "c2", "bob")

	assert.Equal(t, []string{"alice", "bob"}, alice.lastOnline(t))
	assert.Equal(t, []string{"alice", "bob"}, bob.lastOnline(t))
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, []string{"alice", "bob"}, r.Online())
	status.AssertNumberOfCalls(t, "SetOnlineStatus", 2)
}

func TestRegisterIsIdempotent(t *testing.T) {
	status := new(MockStatus)
	status.On("SetOnlineStatus", mock.Anything, "alice", true).Return(nil).Once()
	r := startRegistry(t, status)

	c := connectAs(t, r, "c1", "alice")
	res, err := r.Register("c1", "alice")
	require.NoError(t, err)

	assert.False(t, res.WentOnline)
	assert.Len(t, c.envelopes(t, event.TypeOnlineUsers), 2)
	assert.Equal(t, []string{"alice"}, r.Members(room.Personal("alice").Key()))
	status.AssertExpectations(t)
}

func TestRegisterUnknownConnection(t *testing.T) {
	r := startRegistry(t, nil)
	_, err := r.Register("missing", "alice")
	assert.ErrorIs(t, err, presence.ErrUnknownConnection)
}

func TestRebindMovesConnection(t *testing.T) {
	status := new(MockStatus)
	status.On("SetOnlineStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	status.On("SetLastSeen", mock.Anything, "alice", fixedNow).Return(nil)
	r := startRegistry(t, status)

	connectAs(t, r, "c1", "alice")
	res, err := r.Register("c1", "carol")
	require.NoError(t, err)

	assert.Equal(t, "alice", res.Previous)
	assert.True(t, res.PreviousWentOffline)
	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("carol"))
	assert.Empty(t, r.Members(room.Personal("alice").Key()))
	status.AssertCalled(t, "SetLastSeen", mock.Anything, "alice", fixedNow)
}

func TestDisconnectLastConnectionGoesOffline(t *testing.T) {
	status := new(MockStatus)
	status.On("SetOnlineStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	status.On("SetLastSeen", mock.Anything, "alice", fixedNow).Return(nil)
	r := startRegistry(t, status)

	connectAs(t, r, "c1", "alice")
	connectAs(t, r, "c2", "alice")
	bob := connectAs(t, r, "c3", "bob")

	res, err := r.Disconnect("c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Username)
	assert.False(t, res.WentOffline)
	assert.True(t, r.IsOnline("alice"))

	res, err = r.Disconnect("c2")
	require.NoError(t, err)
	assert.True(t, res.WentOffline)
	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, []string{"bob"}, bob.lastOnline(t))

	status.AssertNumberOfCalls(t, "SetLastSeen", 1)
	status.AssertCalled(t, "SetOnlineStatus", mock.Anything, "alice", false)
}

func TestDisconnectPersistenceFailureIsSwallowed(t *testing.T) {
	status := new(MockStatus)
	status.On("SetOnlineStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	status.On("SetLastSeen", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	r := startRegistry(t, status)

	connectAs(t, r, "c1", "alice")
	res, err := r.Disconnect("c1")
	require.NoError(t, err)
	assert.True(t, res.WentOffline)
	assert.Empty(t, r.Online())
}

func TestDisconnectUnknownIsNoop(t *testing.T) {
	r := startRegistry(t, nil)
	res, err := r.Disconnect("nope")
	require.NoError(t, err)
	assert.Equal(t, presence.DisconnectResult{}, res)
}

func TestDeliverReachesEachConnectionOnce(t *testing.T) {
	r := startRegistry(t, nil)
	alice := connectAs(t, r, "c1", "alice")
	bob := connectAs(t, r, "c2", "bob")

	private := room.Private("alice", "bob").Key()
	require.NoError(t, r.JoinRoom("c1", private))
	require.NoError(t, r.JoinRoom("c2", private))

	frame, err := event.Encode(event.TypePrivateMessage, event.PrivateMessage{
		ID: "m1", Sender: "alice", Recipient: "bob", Content: "hi",
	})
	require.NoError(t, err)

	delivered := r.Deliver([]room.Key{private, room.Personal("bob").Key()}, frame, nil)
	assert.ElementsMatch(t, []string{"c1", "c2"}, delivered)
	assert.Len(t, bob.envelopes(t, event.TypePrivateMessage), 1)
	assert.Len(t, alice.envelopes(t, event.TypePrivateMessage), 1)
}

func TestDeliverHonoursSkip(t *testing.T) {
	r := startRegistry(t, nil)
	connectAs(t, r, "c1", "alice")
	bob := connectAs(t, r, "c2", "bob")

	delivered := r.Deliver(
		[]room.Key{room.Personal("alice").Key(), room.Personal("bob").Key()},
		[]byte(`{"type":"typing_start","data":{}}`),
		map[string]struct{}{"c1": {}},
	)
	assert.Equal(t, []string{"c2"}, delivered)
	assert.Len(t, bob.envelopes(t, event.TypeTypingStart), 1)
}

func TestDeliverDropsOnFullQueue(t *testing.T) {
	r := startRegistry(t, nil)
	c := connectAs(t, r, "c1", "alice")
	c.mu.Lock()
	c.full = true
	c.mu.Unlock()

	assert.Equal(t, 0, r.DeliverToUser("alice", []byte(`{}`)))
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	r := startRegistry(t, nil)
	connectAs(t, r, "c1", "alice")
	key := room.Community("42").Key()

	require.NoError(t, r.JoinRoom("c1", key))
	assert.Equal(t, []string{"alice"}, r.Members(key))
	require.NoError(t, r.LeaveRoom("c1", key))
	assert.Empty(t, r.Members(key))
	assert.ErrorIs(t, r.JoinRoom("ghost", key), presence.ErrUnknownConnection)
}

func TestUsername(t *testing.T) {
	r := startRegistry(t, nil)
	require.NoError(t, r.Connect(newConn("c1")))

	_, err := r.Username("c1")
	assert.ErrorIs(t, err, presence.ErrNotRegistered)

	_, err = r.Register("c1", "alice")
	require.NoError(t, err)
	name, err := r.Username("c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestPresenceConsistentUnderChurn(t *testing.T) {
	r := startRegistry(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			user := fmt.Sprintf("u%d", i%4)
			assert.NoError(t, r.Connect(newConn(id)))
			_, err := r.Register(id, user)
			assert.NoError(t, err)
			if i%2 == 0 {
				_, err = r.Disconnect(id)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// odd ids stay connected: u1 and u3 own all of them
	assert.Equal(t, []string{"u1", "u3"}, r.Online())
	for _, u := range []string{"u0", "u2"} {
		assert.False(t, r.IsOnline(u), u)
	}
}

func TestClosedRegistry(t *testing.T) {
	r := presence.NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()
	cancel()
	<-done

	assert.ErrorIs(t, r.Connect(newConn("c1")), presence.ErrClosed)
	assert.False(t, r.IsOnline("alice"))
}
