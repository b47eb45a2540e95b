// Package resilience guards calls to flaky upstreams with circuit breakers.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the state of a Breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until ResetTimeout has passed.
	Open
	// HalfOpen lets trial calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected by an open breaker.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures that
	// open the breaker. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default: 1.
	Probes int

	// ShouldTrip decides which errors count as failures. Nil counts every
	// error.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions. It runs under the breaker lock and
	// must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns the defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		Probes:           1,
	}
}

// Breaker is a circuit breaker for a single upstream.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	lastFail  time.Time
	successes int

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the upstream name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Do runs fn unless the breaker is open, in which case ErrOpen is returned
// without calling fn.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state. An open breaker whose timeout has passed
// reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFail) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	if b.state != Closed {
		b.transition(Closed)
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	if b.now().Sub(b.lastFail) >= b.cfg.ResetTimeout {
		b.transition(HalfOpen)
		return nil
	}
	return eris.Wrapf(ErrOpen, "resilience: %s", b.name)
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trips := err != nil
	if trips && b.cfg.ShouldTrip != nil {
		trips = b.cfg.ShouldTrip(err)
	}

	if !trips {
		switch b.state {
		case HalfOpen:
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.failures = 0
				b.successes = 0
				b.transition(Closed)
			}
		case Closed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFail = b.now()
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.successes = 0
		b.transition(Open)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Breakers hands out one Breaker per upstream name.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewBreakers creates an empty set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for name, creating it on first use.
func (s *Breakers) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg)
		s.breakers[name] = b
	}
	return b
}

// States snapshots every breaker's state.
func (s *Breakers) States() map[string]State {
	s.mu.Lock()
	names := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		names = append(names, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, b := range names {
		out[b.name] = b.State()
	}
	return out
}
