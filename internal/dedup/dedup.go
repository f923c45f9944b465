// Package dedup suppresses repeated logical events inside a short window.
// One Window is shared by every path that can see the same event twice.
package dedup

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Window remembers keys for ttl after they are first seen.
type Window struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

type Option func(*Window)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

func New(ttl time.Duration, opts ...Option) *Window {
	w := &Window{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lastSweep = w.now()
	return w
}

// Seen reports whether key was already recorded inside the window. A key not
// seen before (or expired) is recorded and false is returned, so exactly one
// of several concurrent callers observes false.
func (w *Window) Seen(key string) bool {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.lastSweep) >= w.ttl {
		w.sweep(now)
	}
	if at, ok := w.seen[key]; ok && now.Sub(at) < w.ttl {
		return true
	}
	w.seen[key] = now
	return false
}

// Forget drops key so the next Seen reports false.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	delete(w.seen, key)
	w.mu.Unlock()
}

// Len returns the number of tracked keys, including ones not yet swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) sweep(now time.Time) {
	for k, at := range w.seen {
		if now.Sub(at) >= w.ttl {
			delete(w.seen, k)
		}
	}
	w.lastSweep = now
}

// Fingerprint hashes content into a short stable token.
func Fingerprint(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 36)
}

// Parts are the inputs of a composite dedup key.
type Parts struct {
	Category  string
	Room      string
	Sender    string
	Timestamp time.Time
	Content   string
	MessageID string
}

// Key builds the dedup key. An explicit message id wins; otherwise the key is
// the category, room, sender, second-resolution timestamp and a content
// fingerprint.
func Key(p Parts) string {
	if p.MessageID != "" {
		return p.Category + "|id|" + p.MessageID
	}
	var b strings.Builder
	b.WriteString(p.Category)
	b.WriteByte('|')
	b.WriteString(p.Room)
	b.WriteByte('|')
	b.WriteString(p.Sender)
	b.WriteByte('|')
	if !p.Timestamp.IsZero() {
		b.WriteString(strconv.FormatInt(p.Timestamp.Unix(), 10))
	}
	b.WriteByte('|')
	b.WriteString(Fingerprint(p.Content))
	return b.String()
}
