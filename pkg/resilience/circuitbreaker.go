package resilience

import (
	"sort"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // requests pass through
	StateOpen                         // requests are rejected
	StateHalfOpen                     // one probe request allowed
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips open after consecutive failures reach a threshold,
// and transitions to half-open after a cooldown period.
type CircuitBreaker struct {
	mu sync.Mutex

	state               CircuitState
	failureThreshold    int
	consecutiveFailures int
	cooldown            time.Duration
	lastFailure         time.Time
	now                 func() time.Time
}

// CircuitBreakerConfig holds configuration for a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Number of consecutive failures to trip
	Cooldown         time.Duration // Time to wait before probing
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		now:              time.Now,
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Allow checks whether a call may go through, moving an open breaker whose
// cooldown has elapsed to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.cooldown {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// RecordSuccess records a successful call; any success closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.state = StateClosed
}

// BreakerSet holds one lazily created breaker per model.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty set; breakers share cfg.
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// For returns the breaker for model, creating it on first use.
func (s *BreakerSet) For(model string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[model]
	if !ok {
		cb = NewCircuitBreaker(s.cfg)
		s.breakers[model] = cb
	}
	return cb
}

// ModelState pairs a model with its breaker state.
type ModelState struct {
	Model string `json:"model"`
	State string `json:"state"`
}

// States lists the breakers created so far, sorted by model.
func (s *BreakerSet) States() []ModelState {
	s.mu.Lock()
	models := make([]string, 0, len(s.breakers))
	for m := range s.breakers {
		models = append(models, m)
	}
	s.mu.Unlock()

	sort.Strings(models)
	out := make([]ModelState, 0, len(models))
	for _, m := range models {
		out = append(out, ModelState{Model: m, State: s.For(m).State().String()})
	}
	return out
}
