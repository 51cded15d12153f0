// Package breaker implements the circuit breaker protecting collectors
// from unhealthy upstream APIs: closed until a failure threshold, open
// for a cooldown, then a single half-open probe decides recovery.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/clock"
	"github.com/kestrelworks/lifelog/internal/telemetry"
)

// ErrCircuitOpen short-circuits a call while the upstream is presumed
// unhealthy. Recoverable; the caller should back off.
var ErrCircuitOpen = errors.New("circuit open")

// ErrCircuitProbing is returned to concurrent callers while the single
// half-open probe is in flight.
var ErrCircuitProbing = errors.New("circuit probing")

// State is the breaker's position in its life cycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker tuning.
type Config struct {
	// FailureThreshold is the count of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a
	// probe.
	Cooldown time.Duration
}

// Breaker guards one named upstream. State is process-local by design;
// a fresh process starts closed, which is an acceptable conservative
// default.
type Breaker struct {
	name   string
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker for name.
func New(name string, cfg Config, clk clock.Clock, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		state:  StateClosed,
	}
}

// State returns the current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Do executes fn if the circuit permits. In the open state it returns
// ErrCircuitOpen without invoking fn. After the cooldown exactly one
// caller runs the half-open probe; concurrent callers during the probe
// get ErrCircuitProbing.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	b.settle(probe, callErr)
	return callErr
}

// admit decides whether the caller may proceed and whether it is the
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true, nil
	case StateHalfOpen:
		if b.probing {
			return false, fmt.Errorf("%w: %s", ErrCircuitProbing, b.name)
		}
		b.probing = true
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
}

// settle records the call outcome. Context cancellation is the caller
// giving up, not upstream failing, so it never counts against the
// threshold.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if callErr == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}
	if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
		return
	}

	if probe || b.state == StateHalfOpen {
		// Probe failed: cooldown restarts.
		b.openedAt = b.clock.Now()
		b.transition(StateOpen)
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.clock.Now()
		b.transition(StateOpen)
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.state = next
	telemetry.BreakerTransition(b.name, string(next))
	b.logger.Info("circuit breaker state change",
		zap.String("breaker", b.name),
		zap.String("state", string(next)),
		zap.Int("failures", b.failures))
}

// Group manages one Breaker per upstream name, created lazily with a
// shared config.
type Group struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty breaker group.
func NewGroup(cfg Config, clk clock.Clock, logger *zap.Logger) *Group {
	return &Group{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for name, creating it on first use.
func (g *Group) Breaker(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = New(name, g.cfg, g.clock, g.logger)
		g.breakers[name] = b
	}
	return b
}

// Do runs fn through the breaker for name.
func (g *Group) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	return g.Breaker(name).Do(ctx, fn)
}
