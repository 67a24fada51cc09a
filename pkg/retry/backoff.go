package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// LinearBackOff waits n*Interval after the n-th failure, capped at MaxWait.
// It never returns backoff.Stop; attempt limits belong to the caller.
type LinearBackOff struct {
	Interval time.Duration
	MaxWait  time.Duration

	attempts int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

func NewLinearBackOff(interval, maxWait time.Duration) *LinearBackOff {
	return &LinearBackOff{Interval: interval, MaxWait: maxWait}
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempts++
	return LinearDelay(b.attempts, b.Interval, b.MaxWait)
}

func (b *LinearBackOff) Reset() { b.attempts = 0 }

func (b *LinearBackOff) Attempts() int { return b.attempts }

// LinearDelay is min(attempt*interval, maxWait). A non-positive maxWait disables the cap.
func LinearDelay(attempt int, interval, maxWait time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(attempt) * interval
	if maxWait > 0 && d > maxWait {
		return maxWait
	}
	return d
}
