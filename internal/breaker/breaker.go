// Package breaker decorates outbound calls with a closed/open/half-open
// circuit so a struggling collaborator fails fast instead of stacking up
// timeouts.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps one named circuit. Wrap collaborator methods with Call or
// Do; the circuit opens after maxFailures consecutive failures and probes
// again after the cooldown.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(name string, maxFailures uint32, cooldown time.Duration) *Breaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}
}

// Do executes fn through the circuit and returns its value.
func (b *Breaker) Do(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// Call executes a value-less fn through the circuit.
func (b *Breaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State reports the circuit state for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
