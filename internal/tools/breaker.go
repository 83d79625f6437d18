package tools

import (
	"context"
	"sync"
	"time"

	"github.com/weft-run/weft/pkg/schema"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, rejecting calls
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit-breaker wrapper.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe requests allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = def.HalfOpenMax
	}
	return c
}

// WithBreaker wraps a tool with a consecutive-failure circuit breaker.
// While the circuit is open, calls fail fast with a BREAKER_OPEN error
// until the cooldown elapses and a probe succeeds.
func WithBreaker(t Tool, cfg BreakerConfig) *BreakerTool {
	return &BreakerTool{
		inner: t,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// BreakerTool is the circuit-breaker wrapper returned by WithBreaker.
type BreakerTool struct {
	inner Tool
	cfg   BreakerConfig
	now   func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

func (bt *BreakerTool) Name() string       { return bt.inner.Name() }
func (bt *BreakerTool) Schema() ToolSchema { return bt.inner.Schema() }

func (bt *BreakerTool) Execute(ctx context.Context, input any) (any, error) {
	if err := bt.allow(); err != nil {
		return nil, err
	}

	out, err := bt.inner.Execute(ctx, input)
	if err != nil {
		bt.recordFailure()
		return nil, err
	}
	bt.recordSuccess()
	return out, nil
}

// State returns the current circuit state, applying the open-to-half-open
// transition when the cooldown has elapsed.
func (bt *BreakerTool) State() BreakerState {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if bt.state == BreakerOpen && bt.now().Sub(bt.lastFailure) >= bt.cfg.Cooldown {
		bt.state = BreakerHalfOpen
		bt.halfOpenAttempts = 0
	}
	return bt.state
}

// Stats returns diagnostic information about the breaker.
func (bt *BreakerTool) Stats() map[string]any {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	return map[string]any{
		"tool":                 bt.inner.Name(),
		"state":                bt.state.String(),
		"consecutive_failures": bt.failures,
		"failure_threshold":    bt.cfg.FailureThreshold,
		"cooldown":             bt.cfg.Cooldown.String(),
	}
}

func (bt *BreakerTool) allow() error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	switch bt.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if bt.now().Sub(bt.lastFailure) >= bt.cfg.Cooldown {
			bt.state = BreakerHalfOpen
			bt.halfOpenAttempts = 1 // this request is the first probe
			return nil
		}
		remaining := bt.cfg.Cooldown - bt.now().Sub(bt.lastFailure)
		return schema.NewErrorf(schema.ErrCodeBreakerOpen,
			"circuit open for tool %q after %d consecutive failures", bt.inner.Name(), bt.failures).
			WithDetails(map[string]any{
				"tool":                 bt.inner.Name(),
				"consecutive_failures": bt.failures,
				"state":                bt.state.String(),
				"cooldown_remaining":   remaining.String(),
			})

	case BreakerHalfOpen:
		if bt.halfOpenAttempts >= bt.cfg.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeBreakerOpen,
				"circuit half-open for tool %q: max probe requests reached", bt.inner.Name())
		}
		bt.halfOpenAttempts++
		return nil
	}

	return nil
}

func (bt *BreakerTool) recordSuccess() {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.failures = 0
	bt.halfOpenAttempts = 0
	bt.state = BreakerClosed
}

func (bt *BreakerTool) recordFailure() {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.failures++
	bt.lastFailure = bt.now()

	// Any failure while half-open reopens the circuit.
	if bt.state == BreakerHalfOpen {
		bt.state = BreakerOpen
		return
	}
	if bt.failures >= bt.cfg.FailureThreshold {
		bt.state = BreakerOpen
	}
}

var _ Tool = (*BreakerTool)(nil)
