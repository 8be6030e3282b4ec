// Package resilience guards the pipeline's calls to outside services: a
// gate spacing requests to one host and a breaker that stops hammering a
// model server that keeps failing.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/WessleyAI/axlelore-kb/pkg/fn"
)

// State is the position of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling out while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// Failures in a row that open the breaker.
	Failures int
	// Cooldown before an open breaker lets one probe call through.
	Cooldown time.Duration
	// OnStateChange is called with the lock held after each transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts suits the embedding server: five failed batches in a
// row mean the model is not loaded or the server is down.
var DefaultBreakerOpts = BreakerOpts{
	Failures: 5,
	Cooldown: 30 * time.Second,
}

// Breaker counts consecutive failures. Cancelled calls are not failures.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker returns a closed breaker. Zero options take the defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.Failures <= 0 {
		opts.Failures = DefaultBreakerOpts.Failures
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	return b.state
}

func (b *Breaker) cool() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.move(StateHalfOpen)
	}
}

func (b *Breaker) move(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probing = false
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if to != StateHalfOpen {
		b.failures = 0
	}
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}

// acquire admits a call: always when closed, never when open, and a single
// probe at a time when half-open.
func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
	}
	return true
}

func (b *Breaker) release(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.failures = 0
		b.move(StateClosed)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.probing = false
	case b.state == StateHalfOpen:
		b.move(StateOpen)
	default:
		b.failures++
		if b.failures >= b.opts.Failures {
			b.move(StateOpen)
		}
	}
}

// Do runs f unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, f func(context.Context) error) error {
	if !b.acquire() {
		return ErrCircuitOpen
	}
	err := f(ctx)
	b.release(ctx, err)
	return err
}

// Guard is Do for calls that return an fn.Result.
func Guard[T any](ctx context.Context, b *Breaker, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if !b.acquire() {
		return fn.Err[T](ErrCircuitOpen)
	}
	r := f(ctx)
	b.release(ctx, r.Error())
	return r
}
