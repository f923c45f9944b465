// Package wsclient is a small client for the realtime /ws endpoint. It keeps
// the signed-in user's unread counters in step with inbound messages.
package wsclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"realtime_go/internal/event"
	"realtime_go/internal/room"
	"realtime_go/internal/unread"
)

// ErrClosed is returned when writing to a closed client.
var ErrClosed = errors.New("client closed")

const writeWait = 10 * time.Second

type Handler func(event.Envelope)

type Client struct {
	conn   *websocket.Conn
	unread *unread.Service
	log    zerolog.Logger

	wmu sync.Mutex

	mu       sync.RWMutex
	user     string
	handlers map[event.Type][]Handler

	closeOnce sync.Once
	done      chan struct{}
}

type Option func(*Client)

// WithUnread feeds inbound messages into svc.
func WithUnread(svc *unread.Service) Option {
	return func(c *Client) { c.unread = svc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Dial connects to url presenting token as a bearer credential.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := &Client{
		conn:     conn,
		log:      zerolog.Nop(),
		handlers: make(map[event.Type][]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// On registers h for events of type t. Handlers run on the read goroutine.
func (c *Client) On(t event.Type, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// Register binds the connection to username and loads its unread counters.
func (c *Client) Register(username string) error {
	if c.unread != nil {
		if err := c.unread.Init(username); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.user = username
	c.mu.Unlock()
	return c.Send(event.TypeRegister, event.Register{Username: username})
}

func (c *Client) Join(ref event.RoomRef) error {
	return c.Send(event.TypeJoinRoom, ref)
}

func (c *Client) Leave(ref event.RoomRef) error {
	return c.Send(event.TypeLeaveRoom, ref)
}

// Focus marks the room the user is looking at; it stops accumulating and is
// cleared.
func (c *Client) Focus(ref event.RoomRef) error {
	if c.unread == nil {
		return nil
	}
	r, err := ref.Resolve(c.username())
	if err != nil {
		return err
	}
	kind := unread.KindChat
	if r.Kind == room.KindCommunity {
		kind = unread.KindCommunity
	}
	c.unread.Counter(kind).SetActive(string(r.Key()))
	return nil
}

func (c *Client) SendPrivate(recipient, content string) error {
	return c.Send(event.TypePrivateMessage, event.PrivateMessage{
		Sender:    c.username(),
		Recipient: recipient,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Client) SendCommunity(communityID, content string) error {
	return c.Send(event.TypeCommunityMessage, event.CommunityMessage{
		CommunityID: communityID,
		Sender:      c.username(),
		Content:     content,
		Timestamp:   time.Now().UTC(),
	})
}

// Send writes one event. Writes are serialised.
func (c *Client) Send(t event.Type, payload any) error {
	frame, err := event.Encode(t, payload)
	if err != nil {
		return errors.WithStack(err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.WithMessagef(err, "write %s", t)
	}
	return nil
}

// Run reads events until ctx is done or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			return errors.WithMessage(err, "read")
		}
		env, err := event.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable frame")
			continue
		}
		c.observe(env)
		c.dispatch(env)
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) dispatch(env event.Envelope) {
	c.mu.RLock()
	hs := append([]Handler(nil), c.handlers[env.Type]...)
	c.mu.RUnlock()
	for _, h := range hs {
		h(env)
	}
}

// observe counts inbound chat and community messages.
func (c *Client) observe(env event.Envelope) {
	if c.unread == nil {
		return
	}
	self := c.username()
	switch env.Type {
	case event.TypePrivateMessage:
		var p event.PrivateMessage
		if err := env.Into(&p); err != nil {
			return
		}
		peer := p.Sender
		if peer == self {
			peer = p.Recipient
		}
		c.unread.Counter(unread.KindChat).Observe(unread.Incoming{
			ID:        p.ID,
			Room:      string(room.Private(self, peer).Key()),
			Sender:    p.Sender,
			Content:   p.Content,
			Timestamp: p.Timestamp,
		})
	case event.TypeCommunityMessage:
		var p event.CommunityMessage
		if err := env.Into(&p); err != nil {
			return
		}
		c.unread.Counter(unread.KindCommunity).Observe(unread.Incoming{
			ID:        p.ID,
			Room:      string(room.Community(p.CommunityID).Key()),
			Sender:    p.Sender,
			Content:   p.Content,
			Timestamp: p.Timestamp,
		})
	}
}
