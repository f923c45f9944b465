package unread_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"

	"realtime_go/internal/dedup"
	"realtime_go/internal/unread"
)

func newCounter(t *testing.T, store unread.Store) *unread.Counter {
	t.Helper()
	c := unread.NewCounter(unread.KindChat, store, dedup.New(8*time.Second), zerolog.Nop())
	require.NoError(t, c.Init("alice"))
	return c
}

func TestActiveRoomNeverCounts(t *testing.T) {
	c := newCounter(t, unread.NewKVStore(ekv.MakeMemstore()))

	c.SetActive("private:alice:bob")
	c.Increment("private:alice:bob")
	c.Increment("private:alice:carol")
	c.Increment("private:alice:carol")

	assert.Equal(t, 0, c.Count("private:alice:bob"))
	assert.Equal(t, 2, c.Count("private:alice:carol"))
	assert.Equal(t, 2, c.Total())

	c.SetActive("private:alice:carol")
	assert.Equal(t, 0, c.Count("private:alice:carol"))
	assert.Equal(t, 0, c.Total())

	c.SetActive("")
	c.Increment("private:alice:carol")
	assert.Equal(t, 1, c.Count("private:alice:carol"))
}

func TestInitTwiceKeepsActiveRoom(t *testing.T) {
	store := unread.NewKVStore(ekv.MakeMemstore())
	c := newCounter(t, store)

	c.SetActive("private:alice:bob")
	c.Increment("private:alice:carol")
	require.NoError(t, c.Init("alice"))

	assert.Equal(t, "private:alice:bob", c.Active())
	c.Increment("private:alice:bob")
	assert.Equal(t, 0, c.Count("private:alice:bob"))
	assert.Equal(t, 1, c.Count("private:alice:carol"))

	require.NoError(t, c.Init("bob"))
	assert.Equal(t, "", c.Active())
	assert.Equal(t, 0, c.Total())
}

func TestClear(t *testing.T) {
	c := newCounter(t, unread.NewKVStore(ekv.MakeMemstore()))
	c.Increment("a")
	c.Increment("b")
	c.Clear("a")
	assert.Equal(t, 0, c.Count("a"))
	assert.Equal(t, 1, c.Total())
}

func TestCountsSurviveRestart(t *testing.T) {
	store := unread.NewKVStore(ekv.MakeMemstore())
	c := newCounter(t, store)
	c.Increment("a")
	c.Increment("a")
	c.Increment("b")

	restarted := newCounter(t, store)
	assert.Equal(t, 2, restarted.Count("a"))
	assert.Equal(t, 3, restarted.Total())

	other := unread.NewCounter(unread.KindChat, store, nil, zerolog.Nop())
	require.NoError(t, other.Init("bob"))
	assert.Equal(t, 0, other.Total())
}

func TestSubscribe(t *testing.T) {
	c := newCounter(t, unread.NewKVStore(ekv.MakeMemstore()))

	var (
		mu    sync.Mutex
		snaps []unread.Snapshot
	)
	unsubscribe := c.Subscribe(func(s unread.Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	c.Increment("a")
	c.Increment("a")
	unsubscribe()
	c.Increment("a")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 3)
	assert.Equal(t, 0, snaps[0].Total)
	assert.Equal(t, 1, snaps[1].Counts["a"])
	assert.Equal(t, 2, snaps[2].Total)

	snaps[2].Counts["a"] = 99
	assert.Equal(t, 3, c.Count("a"))
}

func TestObserveDeduplicates(t *testing.T) {
	c := newCounter(t, unread.NewKVStore(ekv.MakeMemstore()))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := unread.Incoming{Room: "private:alice:bob", Sender: "bob", Content: "hi", Timestamp: at}
	assert.True(t, c.Observe(in))
	assert.False(t, c.Observe(in))

	assert.True(t, c.Observe(unread.Incoming{ID: "m2", Room: "private:alice:bob", Sender: "bob"}))
	assert.False(t, c.Observe(unread.Incoming{ID: "m2", Room: "private:alice:bob", Sender: "bob", Content: "edited"}))

	assert.False(t, c.Observe(unread.Incoming{ID: "m3", Room: "private:alice:bob", Sender: "alice"}))

	c.SetActive("private:alice:bob")
	assert.False(t, c.Observe(unread.Incoming{ID: "m4", Room: "private:alice:bob", Sender: "bob"}))
	assert.Equal(t, 0, c.Total())
}

type failingStore struct{}

func (failingStore) Load(string, unread.Kind) (map[string]int, error) { return map[string]int{}, nil }

func (failingStore) Save(string, unread.Kind, map[string]int) error { return errors.New("disk full") }

func TestSaveFailureKeepsCounting(t *testing.T) {
	c := newCounter(t, failingStore{})
	c.Increment("a")
	assert.Equal(t, 1, c.Count("a"))
}

func TestService(t *testing.T) {
	svc := unread.NewService(unread.NewKVStore(ekv.MakeMemstore()), dedup.New(8*time.Second), zerolog.Nop())
	require.NoError(t, svc.Init("alice"))

	var community unread.Snapshot
	unsubscribe := svc.Subscribe(unread.KindCommunity, func(s unread.Snapshot) { community = s })
	defer unsubscribe()

	svc.Counter(unread.KindChat).Increment("private:alice:bob")
	svc.Counter(unread.KindCommunity).Increment("community:c9")
	svc.Counter(unread.KindCommunity).Increment("community:c9")

	assert.Equal(t, 3, svc.Total())
	assert.Equal(t, unread.KindCommunity, community.Kind)
	assert.Equal(t, 2, community.Total)
	assert.Nil(t, svc.Counter("bogus"))
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unread.db")
	store, err := unread.OpenBoltStore(path)
	require.NoError(t, err)

	counts, err := store.Load("alice", unread.KindChat)
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.NoError(t, store.Save("alice", unread.KindChat, map[string]int{"a": 4}))
	require.NoError(t, store.Close())

	store, err = unread.OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()
	counts, err = store.Load("alice", unread.KindChat)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 4}, counts)

	counts, err = store.Load("alice", unread.KindCommunity)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestFilestore(t *testing.T) {
	store, err := unread.OpenKVStore(t.TempDir(), "hunter2")
	require.NoError(t, err)

	c := unread.NewCounter(unread.KindCommunity, store, nil, zerolog.Nop())
	require.NoError(t, c.Init("alice"))
	c.Increment("community:c9")

	counts, err := store.Load("alice", unread.KindCommunity)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"community:c9": 1}, counts)
}
