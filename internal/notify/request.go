package notify

import (
	"strings"
	"time"

	"realtime_go/internal/dedup"
	"realtime_go/internal/domain"
)

const (
	CategoryMessage    = "message"
	CategoryCommunity  = "community"
	CategoryCall       = "call"
	CategoryMissedCall = "missed_call"
)

// Request asks for one push to one user. Title and Body are templates whose
// {name} placeholders are filled from Data.
type Request struct {
	Target   string
	Category string
	Title    string
	Body     string
	Data     map[string]string

	// Dedup inputs. MessageID wins when set.
	MessageID string
	Room      string
	Sender    string
	Timestamp time.Time
	Content   string
}

func (r Request) validate() error {
	if r.Target == "" {
		return domain.ErrInvalidInput
	}
	if r.Category == "" {
		return domain.ErrInvalidInput
	}
	return nil
}

// dedupKey scopes the composite key to the target so one community message
// still reaches every offline member once.
func (r Request) dedupKey() string {
	return dedup.Key(dedup.Parts{
		Category:  "push:" + r.Category + ":" + r.Target,
		Room:      r.Room,
		Sender:    r.Sender,
		Timestamp: r.Timestamp,
		Content:   r.Content,
		MessageID: r.MessageID,
	})
}

// Render fills {name} placeholders in tmpl from data. Unknown placeholders are
// left as they are.
func Render(tmpl string, data map[string]string) string {
	if len(data) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
