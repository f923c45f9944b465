// Package push talks to an Expo-compatible push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidRegistration means the gateway no longer accepts the token and it
// should be forgotten.
var ErrInvalidRegistration = errors.New("push registration invalid")

// Message is one notification for one device token.
type Message struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

type Client struct {
	url         string
	accessToken string
	http        *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(url, accessToken string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers msg. It returns nil when the gateway accepted the ticket,
// an error wrapping ErrInvalidRegistration when the device is gone, and any
// other error for transient or unknown failures.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.Sound == "" {
		msg.Sound = "default"
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal push message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build push request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send push")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read push response")
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("push gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return errors.Wrap(err, "decode push response")
	}
	if len(r.Errors) > 0 {
		return errors.Errorf("push gateway error %s: %s", r.Errors[0].Code, r.Errors[0].Message)
	}

	t, err := decodeTicket(r.Data)
	if err != nil {
		return err
	}
	if t.Status == "ok" {
		return nil
	}
	if t.Details.Error == "DeviceNotRegistered" {
		return errors.WithMessage(ErrInvalidRegistration, t.Message)
	}
	return errors.Errorf("push rejected (%s): %s", t.Details.Error, t.Message)
}

// decodeTicket accepts both the single-object and the one-element array form.
func decodeTicket(data json.RawMessage) (ticket, error) {
	var t ticket
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return t, errors.New("push response has no data")
	}
	if data[0] == '[' {
		var ts []ticket
		if err := json.Unmarshal(data, &ts); err != nil {
			return t, errors.Wrap(err, "decode push tickets")
		}
		if len(ts) == 0 {
			return t, errors.New("push response has no tickets")
		}
		return ts[0], nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, errors.Wrap(err, "decode push ticket")
	}
	return t, nil
}
