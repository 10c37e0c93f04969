package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/pkg/logger"
)

// State represents the state of the circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// ErrOpen is returned without running the operation while the breaker is open
var ErrOpen = errors.New("circuit breaker open")

// Config tunes a Breaker
type Config struct {
	// MaxFailures opens the breaker after this many consecutive failures
	MaxFailures int
	// Cooldown is how long the breaker stays open before a trial request
	Cooldown time.Duration
	// Attempts is the number of tries per Execute, including the first
	Attempts int
	// Backoff is the wait between attempts, multiplied by the attempt number
	Backoff time.Duration
	// Timeout bounds one Execute including retries
	Timeout time.Duration
}

// DefaultConfig returns the settings used for object storage calls
func DefaultConfig() Config {
	return Config{
		MaxFailures: 3,
		Cooldown:    10 * time.Second,
		Attempts:    3,
		Backoff:     100 * time.Millisecond,
		Timeout:     10 * time.Second,
	}
}

// Breaker wraps calls to a flaky dependency with retry, timeout, and a
// circuit breaker
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now, state: StateClosed}
}

// Execute runs fn, retrying failures up to the configured attempts
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= b.cfg.Attempts; attempt++ {
		if !b.allow() {
			return fmt.Errorf("%s %s: %w", b.name, operation, ErrOpen)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			b.success()
			return nil
		}
		b.failure(operation, lastErr)

		if attempt == b.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s timed out: %w", b.name, operation, lastErr)
		case <-time.After(time.Duration(attempt) * b.cfg.Backoff):
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", b.name, operation, b.cfg.Attempts, lastErr)
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		return false
	}
	b.state = StateHalfOpen
	logger.Warn("Circuit breaker half-open", zap.String("breaker", b.name))
	return true
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		logger.Info("Circuit breaker closed", zap.String("breaker", b.name))
	}
	b.state = StateClosed
	b.failures = 0
}

func (b *Breaker) failure(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		if b.state != StateOpen {
			logger.Error("Circuit breaker open",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.failures),
				zap.Error(err))
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
