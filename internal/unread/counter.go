// Package unread keeps per-room unread counters on the client. The active
// room never accumulates; every mutation is persisted and announced to
// subscribers.
package unread

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"realtime_go/internal/dedup"
)

type Kind string

const (
	KindChat      Kind = "chat"
	KindCommunity Kind = "community"
)

// Snapshot is a copy of the counter map handed to listeners.
type Snapshot struct {
	Kind   Kind
	Counts map[string]int
	Total  int
}

type Listener func(Snapshot)

// Store persists counters per signed-in user and kind.
type Store interface {
	Load(user string, kind Kind) (map[string]int, error)
	Save(user string, kind Kind, counts map[string]int) error
}

// Incoming is an inbound event as seen by the counter.
type Incoming struct {
	ID        string
	Room      string
	Sender    string
	Content   string
	Timestamp time.Time
}

type Counter struct {
	kind   Kind
	store  Store
	window *dedup.Window
	log    zerolog.Logger

	mu        sync.Mutex
	user      string
	counts    map[string]int
	active    string
	listeners map[int]Listener
	nextID    int
}

func NewCounter(kind Kind, store Store, window *dedup.Window, log zerolog.Logger) *Counter {
	return &Counter{
		kind:      kind,
		store:     store,
		window:    window,
		log:       log.With().Str("kind", string(kind)).Logger(),
		counts:    make(map[string]int),
		listeners: make(map[int]Listener),
	}
}

// Init loads the persisted counters of user, replacing any in memory. It is a
// no-op when user is already loaded, so the active room survives a reconnect.
func (c *Counter) Init(user string) error {
	c.mu.Lock()
	loaded := c.user == user && user != ""
	c.mu.Unlock()
	if loaded {
		return nil
	}
	counts, err := c.store.Load(user, c.kind)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.user = user
	c.counts = make(map[string]int, len(counts))
	for k, v := range counts {
		if v > 0 {
			c.counts[k] = v
		}
	}
	c.active = ""
	snap, ls := c.changedLocked(false)
	c.mu.Unlock()
	notifyAll(ls, snap)
	return nil
}

// SetActive marks key as the room on screen and clears it. An empty key means
// no room is active.
func (c *Counter) SetActive(key string) {
	c.mu.Lock()
	c.active = key
	_, had := c.counts[key]
	delete(c.counts, key)
	snap, ls := c.changedLocked(had)
	c.mu.Unlock()
	notifyAll(ls, snap)
}

// Increment bumps key unless it is the active room.
func (c *Counter) Increment(key string) {
	c.mu.Lock()
	if key == "" || key == c.active {
		c.mu.Unlock()
		return
	}
	c.counts[key]++
	snap, ls := c.changedLocked(true)
	c.mu.Unlock()
	notifyAll(ls, snap)
}

func (c *Counter) Clear(key string) {
	c.mu.Lock()
	_, had := c.counts[key]
	delete(c.counts, key)
	snap, ls := c.changedLocked(had)
	c.mu.Unlock()
	notifyAll(ls, snap)
}

func (c *Counter) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalLocked()
}

func (c *Counter) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Subscribe calls l now and after every mutation. The returned func removes it.
func (c *Counter) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	snap := c.snapshotLocked()
	c.mu.Unlock()

	l(snap)
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Observe counts an inbound event once. Events seen before inside the dedup
// window and events sent by the signed-in user are ignored. It reports
// whether the event was counted.
func (c *Counter) Observe(in Incoming) bool {
	c.mu.Lock()
	self := c.user
	c.mu.Unlock()
	if in.Room == "" || (self != "" && in.Sender == self) {
		return false
	}
	if c.window != nil {
		key := dedup.Key(dedup.Parts{
			Category:  "unread:" + string(c.kind),
			Room:      in.Room,
			Sender:    in.Sender,
			Timestamp: in.Timestamp,
			Content:   in.Content,
			MessageID: in.ID,
		})
		if c.window.Seen(key) {
			return false
		}
	}
	if in.Room == c.Active() {
		return false
	}
	c.Increment(in.Room)
	return true
}

// changedLocked persists when persist is set and returns what listeners need.
func (c *Counter) changedLocked(persist bool) (Snapshot, []Listener) {
	if persist && c.user != "" {
		if err := c.store.Save(c.user, c.kind, c.copyLocked()); err != nil {
			c.log.Warn().Err(err).Str("user", c.user).Msg("persist unread counts")
		}
	}
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	return c.snapshotLocked(), ls
}

func (c *Counter) snapshotLocked() Snapshot {
	return Snapshot{Kind: c.kind, Counts: c.copyLocked(), Total: c.totalLocked()}
}

func (c *Counter) copyLocked() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func (c *Counter) totalLocked() int {
	total := 0
	for _, v := range c.counts {
		total += v
	}
	return total
}

func notifyAll(ls []Listener, snap Snapshot) {
	for _, l := range ls {
		l(Snapshot{Kind: snap.Kind, Counts: copyCounts(snap.Counts), Total: snap.Total})
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
