package resilience

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig is the immutable retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Base is the exponential growth factor between retries.
	Base float64
	// Jitter randomizes each delay by a uniform factor in [0.5, 1.0] to
	// avoid synchronized retry storms across callers.
	Jitter bool
}

// DefaultRetryConfig returns the retry policy applied when none is supplied.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Base:         2.0,
		Jitter:       true,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Base < 1 {
		c.Base = def.Base
	}
	return c
}

// Retrier executes operations with bounded retries and exponential backoff.
type Retrier struct {
	config RetryConfig
}

// NewRetrier creates a retrier with the given policy.
func NewRetrier(config RetryConfig) *Retrier {
	return &Retrier{config: config.withDefaults()}
}

// Do runs op up to MaxRetries+1 times, sleeping between attempts. The sleep
// blocks the calling goroutine; hammering a failing service would be worse.
//
// ErrCircuitOpen propagates immediately without further attempts: retrying a
// known-open circuit cannot succeed before its recovery timeout.
func (r *Retrier) Do(op Operation) (any, error) {
	var last error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.Delay(attempt))
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return nil, err
		}
		last = err
	}

	return nil, &ExhaustedError{Attempts: r.config.MaxRetries + 1, Last: last}
}

// Delay returns the wait before retry n (n >= 1):
// min(initial * base^(n-1), max), optionally jittered.
func (r *Retrier) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}

	d := float64(r.config.InitialDelay) * math.Pow(r.config.Base, float64(retry-1))
	if capped := float64(r.config.MaxDelay); d > capped {
		d = capped
	}
	if r.config.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}
