package rails

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"go.uber.org/zap"
)

// BreakerState of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	MaxFailures      int           // consecutive failures before opening
	Timeout          time.Duration // wait before moving from open to half-open
	SuccessThreshold int           // consecutive successes needed to close from half-open
	Name             string
}

// Breaker protects a gateway. While open every submission fails fast with
// RailRejected.
type Breaker struct {
	next   Gateway
	config BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

func NewBreaker(next Gateway, config BreakerConfig, logger *zap.Logger) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Name == "" {
		config.Name = "rail"
	}
	return &Breaker{next: next, config: config, logger: logger, now: time.Now}
}

func (b *Breaker) Submit(ctx context.Context, t Transfer) (*Receipt, error) {
	if !b.allow() {
		return nil, errors.RailRejected.Explain("%s circuit open", b.config.Name).WithDetail("circuit", StateOpen.String())
	}
	r, err := b.next.Submit(ctx, t)
	b.record(err)
	return r, err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) <= b.config.Timeout {
			return false
		}
		b.setState(StateHalfOpen)
		b.successes = 0
		return true
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = b.now()
		switch b.state {
		case StateClosed:
			if b.failures >= b.config.MaxFailures {
				b.setState(StateOpen)
			}
		case StateHalfOpen:
			b.setState(StateOpen)
		}
		return
	}
	b.failures = 0
	b.successes++
	if b.state == StateHalfOpen && b.successes >= b.config.SuccessThreshold {
		b.setState(StateClosed)
	}
}

func (b *Breaker) setState(state BreakerState) {
	if b.state == state {
		return
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("name", b.config.Name),
		zap.String("from", b.state.String()),
		zap.String("to", state.String()))
	b.state = state
}
