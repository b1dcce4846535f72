// Package session holds the reconnect policy the console applies to its
// long-lived protocol connections. The protocol clients never reconnect on
// their own; a [Reconnector] decides when and how often to dial again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrGaveUp is passed to OnGiveUp after MaxRetries failed attempts.
var ErrGaveUp = errors.New("session: reconnection failed after max retries")

// ErrNotEstablished marks a connection that dropped before
// [Reconnector.Established] was called for it.
var ErrNotEstablished = errors.New("session: connection closed before it was established")

// DialFunc establishes one connection. ctx bounds the connection's lifetime,
// not just the dial.
type DialFunc func(ctx context.Context) error

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Name labels log lines (e.g. "compositor", "relay").
	Name string

	// Dial opens the connection. Required.
	Dial DialFunc

	// MaxRetries bounds consecutive failed attempts. Defaults to 10.
	MaxRetries int

	// RequireEstablished makes a successful dial provisional. The failure
	// count and backoff only reset once [Reconnector.Established] is called;
	// a connection that drops before that counts as a failed attempt, so a
	// server that accepts the socket and then rejects the session is retried
	// with growing delays.
	RequireEstablished bool

	// Backoff is the wait after the first failed attempt. It doubles on each
	// further failure up to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s.
	MaxBackoff time.Duration

	// OnAttempt, if set, is called after every reconnection attempt with its
	// 1-based number and result.
	OnAttempt func(attempt int, err error)

	// OnGiveUp, if set, is called when a cycle exhausts MaxRetries.
	OnGiveUp func(err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Reconnector dials a connection and dials it again with exponential backoff
// whenever [Reconnector.NotifyDisconnect] reports a drop.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	name        string
	dial        DialFunc
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onAttempt   func(int, error)
	onGiveUp    func(error)
	log         *slog.Logger
	provisional bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool

	disconnected chan struct{}
	stopOnce     sync.Once
	done         chan struct{}

	mu          sync.Mutex
	attempts    int
	failures    int
	wait        time.Duration
	established bool
}

// NewReconnector creates a [Reconnector]. cfg.Dial must be set.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconnector{
		name:         cfg.Name,
		dial:         cfg.Dial,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		onAttempt:    cfg.OnAttempt,
		onGiveUp:     cfg.OnGiveUp,
		provisional:  cfg.RequireEstablished,
		wait:         cfg.Backoff,
		log:          cfg.Logger.With("connection", cfg.Name),
		sleep:        sleepCtx,
		disconnected: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Connect performs the initial dial. It does not retry.
func (r *Reconnector) Connect(ctx context.Context) error {
	if err := r.dial(ctx); err != nil {
		return fmt.Errorf("session: %s initial connect: %w", r.name, err)
	}
	return nil
}

// NotifyDisconnect signals that the connection dropped. Signals arriving
// while a reconnection cycle is pending are coalesced.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Attempts returns the total number of reconnection attempts made.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Run handles disconnect notifications until ctx is cancelled or Stop is
// called. It always returns nil so it can run inside an errgroup without
// tearing the group down.
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case <-r.disconnected:
			r.reconnect(ctx)
		}
	}
}

// Stop halts Run. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Established reports that the current connection completed its session
// handshake. It resets the failure count and backoff.
func (r *Reconnector) Established() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.established = true
	r.failures = 0
	r.wait = r.backoff
}

func (r *Reconnector) reconnect(ctx context.Context) {
	if r.provisional {
		r.mu.Lock()
		healthy := r.established
		r.established = false
		r.mu.Unlock()
		if !healthy && r.fail(ctx, ErrNotEstablished) {
			return
		}
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil || r.stopped() {
			return
		}

		r.log.Info("attempting reconnection", "attempt", attempt, "max_retries", r.maxRetries)
		err := r.dial(ctx)

		r.mu.Lock()
		r.attempts++
		r.mu.Unlock()
		if r.onAttempt != nil {
			r.onAttempt(attempt, err)
		}
		if err == nil {
			r.log.Info("reconnection successful", "attempt", attempt)
			if !r.provisional {
				r.Established()
			}
			return
		}
		if r.fail(ctx, err) {
			return
		}
	}
}

// fail records a failed attempt and waits out the backoff. It reports true
// when the cycle must end, either because MaxRetries was reached or because
// ctx ended or Stop was called during the wait.
func (r *Reconnector) fail(ctx context.Context, err error) bool {
	r.mu.Lock()
	r.failures++
	failures, wait := r.failures, r.wait
	r.wait = min(r.wait*2, r.maxBackoff)
	if failures >= r.maxRetries {
		r.failures, r.wait = 0, r.backoff
	}
	r.mu.Unlock()

	if failures >= r.maxRetries {
		r.log.Error("reconnection failed after max retries", "max_retries", r.maxRetries, "err", err)
		if r.onGiveUp != nil {
			r.onGiveUp(fmt.Errorf("%w: %w", ErrGaveUp, err))
		}
		return true
	}
	r.log.Warn("reconnection attempt failed", "failures", failures, "backoff", wait, "err", err)
	return !r.sleep(ctx, wait) || r.stopped()
}

func (r *Reconnector) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
