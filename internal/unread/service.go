package unread

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"realtime_go/internal/dedup"
)

// Service groups the chat and community counters of one signed-in user.
type Service struct {
	counters map[Kind]*Counter
}

func NewService(store Store, window *dedup.Window, log zerolog.Logger) *Service {
	return &Service{counters: map[Kind]*Counter{
		KindChat:      NewCounter(KindChat, store, window, log),
		KindCommunity: NewCounter(KindCommunity, store, window, log),
	}}
}

// Init loads every counter for user.
func (s *Service) Init(user string) error {
	for kind, c := range s.counters {
		if err := c.Init(user); err != nil {
			return errors.WithMessagef(err, "init %s counters", kind)
		}
	}
	return nil
}

// Counter returns the counter of kind, or nil for an unknown kind.
func (s *Service) Counter(kind Kind) *Counter {
	return s.counters[kind]
}

func (s *Service) Subscribe(kind Kind, l Listener) func() {
	c, ok := s.counters[kind]
	if !ok {
		return func() {}
	}
	return c.Subscribe(l)
}

// Total sums every kind.
func (s *Service) Total() int {
	total := 0
	for _, c := range s.counters {
		total += c.Total()
	}
	return total
}
