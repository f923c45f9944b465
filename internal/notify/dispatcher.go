// Package notify delivers push notifications to users without a live
// connection. Every request passes through one shared dedup window, so the
// same logical event reaching the dispatcher along two paths is pushed once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"realtime_go/internal/dedup"
	"realtime_go/internal/metrics"
	"realtime_go/internal/push"
)

// TokenStore is the push token slice of the persistence collaborator.
type TokenStore interface {
	ListPushTokens(ctx context.Context, username string) ([]string, error)
	RemovePushToken(ctx context.Context, username, token string) error
}

// Gateway sends one message to one device.
type Gateway interface {
	Send(ctx context.Context, msg push.Message) error
}

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSecond int
	// AlwaysPush lists categories pushed even when the target is online.
	AlwaysPush  []string
	SendTimeout time.Duration
}

type Dispatcher struct {
	tokens  TokenStore
	gateway Gateway
	window  *dedup.Window
	log     zerolog.Logger

	always      map[string]bool
	rl          ratelimit.Limiter
	workers     int
	sendTimeout time.Duration

	mu     sync.RWMutex
	queue  chan Request
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(tokens TokenStore, gateway Gateway, window *dedup.Window, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	rl := ratelimit.NewUnlimited()
	if cfg.RatePerSecond > 0 {
		rl = ratelimit.New(cfg.RatePerSecond, ratelimit.WithoutSlack)
	}
	always := make(map[string]bool, len(cfg.AlwaysPush))
	for _, c := range cfg.AlwaysPush {
		always[c] = true
	}
	return &Dispatcher{
		tokens:      tokens,
		gateway:     gateway,
		window:      window,
		log:         log,
		always:      always,
		rl:          rl,
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		queue:       make(chan Request, cfg.QueueSize),
	}
}

// Wants reports whether a push of category should be sent to a target whose
// live status is online.
func (d *Dispatcher) Wants(category string, online bool) bool {
	return !online || d.always[category]
}

// Start launches the worker pool. Workers drain the queue until Close.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Close stops accepting requests and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue hands req to the worker pool without blocking. It returns false
// when the queue is full or closed; the request is then dropped.
func (d *Dispatcher) Enqueue(req Request) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- req:
		return true
	default:
		metrics.PushesTotal.WithLabelValues(req.Category, "dropped").Inc()
		d.log.Warn().Str("target", req.Target).Str("category", req.Category).Msg("push queue full, dropping")
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for req := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if _, err := d.Dispatch(ctx, req); err != nil {
			d.log.Warn().Err(err).Str("target", req.Target).Str("category", req.Category).Msg("push dispatch")
		}
		cancel()
	}
}

// Report summarises one Dispatch.
type Report struct {
	Suppressed bool
	Sent       int
	Invalid    int
	Failed     int
}

// Dispatch pushes req to every token of the target. Duplicates inside the
// window and targets without tokens are successful no-ops. Per-token failures
// are logged and counted; invalid registrations are removed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Report, error) {
	var rep Report
	if err := req.validate(); err != nil {
		return rep, fmt.Errorf("dispatch: target and category are required: %w", err)
	}
	if d.window != nil && d.window.Seen(req.dedupKey()) {
		rep.Suppressed = true
		metrics.DedupSuppressedTotal.WithLabelValues("push").Inc()
		return rep, nil
	}

	tokens, err := d.tokens.ListPushTokens(ctx, req.Target)
	if err != nil {
		return rep, fmt.Errorf("list push tokens: %w", err)
	}
	if len(tokens) == 0 {
		metrics.PushesTotal.WithLabelValues(req.Category, "no_tokens").Inc()
		return rep, nil
	}

	data := make(map[string]string, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	data["category"] = req.Category
	title := Render(req.Title, req.Data)
	body := Render(req.Body, req.Data)

	for _, token := range tokens {
		d.rl.Take()
		err := d.gateway.Send(ctx, push.Message{To: token, Title: title, Body: body, Data: data})
		switch {
		case err == nil:
			rep.Sent++
			metrics.PushesTotal.WithLabelValues(req.Category, "delivered").Inc()
		case errors.Is(err, push.ErrInvalidRegistration):
			rep.Invalid++
			metrics.PushesTotal.WithLabelValues(req.Category, "invalid").Inc()
			if rmErr := d.tokens.RemovePushToken(ctx, req.Target, token); rmErr != nil {
				d.log.Warn().Err(rmErr).Str("target", req.Target).Msg("remove invalid push token")
			}
		default:
			rep.Failed++
			metrics.PushesTotal.WithLabelValues(req.Category, "failed").Inc()
			d.log.Warn().Err(err).Str("target", req.Target).Str("category", req.Category).Msg("push send")
		}
	}
	return rep, nil
}
