// Package latency holds the artificial latency policies of the lab services.
//
// The policies are pure functions of a wall-clock instant so they can be
// evaluated at fixed timestamps; Suspend applies a computed delay to a single
// request without blocking any other.
package latency

//go:generate mockgen -source=latency.go -destination=mock/mock_latency.go

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// Period is the length of one latency cycle, anchored to the Unix epoch.
	Period = 60 * time.Second

	addBaseMs      = 25
	addAmplitudeMs = 12

	randomWindow    = 30 * time.Second
	randomSlowDelay = 20 * time.Millisecond
	randomFastDelay = 10 * time.Millisecond
)

// ErrSuspended marks a suspension that ended before its delay elapsed.
var ErrSuspended = errors.New("[LAB] suspension interrupted")

// Clock reads the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// AddDelay returns the addition delay at t:
// round(25 + 12*sin(2π*ms/60000)) milliseconds, where ms is t in Unix milliseconds.
// The result is always within [13ms, 37ms].
func AddDelay(t time.Time) time.Duration {
	ms := float64(t.UnixMilli())
	periodMs := float64(Period.Milliseconds())
	delay := math.Round(addBaseMs + addAmplitudeMs*math.Sin(2*math.Pi*ms/periodMs))
	return time.Duration(delay) * time.Millisecond
}

// RandomDelay returns the random-number delay at t: 20ms during the first half
// of each minute of Unix time, 10ms during the second half.
func RandomDelay(t time.Time) time.Duration {
	if phase(t) < randomWindow.Milliseconds() {
		return randomSlowDelay
	}
	return randomFastDelay
}

// phase returns t's offset into its cycle in milliseconds, in [0, 60000).
func phase(t time.Time) int64 {
	p := Period.Milliseconds()
	return ((t.UnixMilli() % p) + p) % p
}

// Suspend blocks the calling goroutine for d or until ctx is done.
// It returns nil once d has elapsed, otherwise an error marked ErrSuspended
// that wraps ctx.Err().
func Suspend(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Mark(errors.Wrapf(ctx.Err(), "suspension of %v interrupted", d), ErrSuspended)
	}
}
