// Package circuitbreaker guards calls to the broker and other external services.
// It wraps sony/gobreaker with OpenTelemetry spans and counters.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration
type Config struct {
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long to stay open before probing again
	Timeout time.Duration
	// FailureThreshold trips the breaker on consecutive failures while fewer
	// than MinRequests have been seen
	FailureThreshold uint32
	// FailureRatio trips the breaker once MinRequests is reached
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns defaults tuned for broker publishing from the outbox relay
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// StateObserver is notified on every state transition
type StateObserver func(name string, from, to State)

// ErrOpen is returned by Do when the breaker rejects a call
var ErrOpen = errors.New("circuit breaker open")

// IsOpenError reports whether err is a rejection by an open or saturated breaker
func IsOpenError(err error) bool {
	return errors.Is(err, ErrOpen) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	calls    metric.Int64Counter
	rejected metric.Int64Counter

	stateMu   sync.RWMutex
	state     State
	observers []StateObserver
}

// New creates a new circuit breaker
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter("circuit-breaker")
	calls, err := meter.Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls through the breaker by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create call counter: %w", err)
	}
	rejected, err := meter.Int64Counter("circuit_breaker_rejections_total",
		metric.WithDescription("Calls refused while the breaker was open"))
	if err != nil {
		return nil, fmt.Errorf("create rejection counter: %w", err)
	}

	c := &CircuitBreaker{
		name:     cfg.Name,
		logger:   logger,
		tracer:   otel.Tracer("circuit-breaker"),
		calls:    calls,
		rejected: rejected,
		state:    StateClosed,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.onStateChange(from, to)
		},
		IsSuccessful: func(err error) bool {
			// a canceled caller says nothing about the remote side
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c, nil
}

// Do runs fn through the breaker. Rejections are reported as ErrOpen wrapping
// the gobreaker error.
func (c *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.GetState())),
		))
	defer span.End()

	name := attribute.String("name", c.name)
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		c.calls.Add(ctx, 1, metric.WithAttributes(name, attribute.String("outcome", "success")))
		return nil
	case IsOpenError(err):
		c.rejected.Add(ctx, 1, metric.WithAttributes(name))
		span.SetAttributes(attribute.Bool("circuit_open", true))
		return fmt.Errorf("%w: %s: %w", ErrOpen, c.name, err)
	default:
		c.calls.Add(ctx, 1, metric.WithAttributes(name, attribute.String("outcome", "failure")))
		span.RecordError(err)
		return err
	}
}

// OnStateChange registers an observer for state transitions
func (c *CircuitBreaker) OnStateChange(fn StateObserver) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *CircuitBreaker) Name() string { return c.name }

func (c *CircuitBreaker) GetState() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *CircuitBreaker) IsOpen() bool   { return c.GetState() == StateOpen }
func (c *CircuitBreaker) IsClosed() bool { return c.GetState() == StateClosed }

func (c *CircuitBreaker) onStateChange(from, to gobreaker.State) {
	fromState, toState := mapState(from), mapState(to)

	c.stateMu.Lock()
	c.state = toState
	observers := append([]StateObserver(nil), c.observers...)
	c.stateMu.Unlock()

	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(fromState)),
		zap.String("to", string(toState)))

	for _, fn := range observers {
		fn(c.name, fromState, toState)
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}
