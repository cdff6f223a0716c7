// Package random implements the random number service: GET /rand replies a
// full-range random int64 after a delay that alternates every 30 seconds.
package random

import (
	"context"
	cryptorand "crypto/rand"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	labsvc "github.com/xizhibei/go-lab-services"
	"github.com/xizhibei/go-lab-services/latency"
	"go.uber.org/zap"
)

// Path is the route of the random number endpoint.
const Path = "/rand"

// Response is the random number output.
type Response struct {
	Result int64 `json:"result"`
}

// Source returns a uniformly distributed int64 over the whole int64 range.
// It must be safe for concurrent use.
type Source func() int64

// FreshInt64 draws from a ChaCha8 generator seeded from the OS entropy source
// on every call, so no generator state is shared between calls.
func FreshInt64() int64 {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// the runtime-seeded global generator is still safe for concurrent use
		return int64(rand.Uint64())
	}
	return int64(rand.New(rand.NewChaCha8(seed)).Uint64())
}

// Service returns random numbers after the delay given by latency.RandomDelay.
type Service struct {
	clock  latency.Clock
	source Source
	log    *zap.SugaredLogger

	// OnDelay, when set, observes every delay before it is applied.
	OnDelay func(d time.Duration)
}

// New returns a Service reading time from clock and drawing numbers from source.
// A nil source means FreshInt64.
func New(clock latency.Clock, source Source) *Service {
	if source == nil {
		source = FreshInt64
	}
	return &Service{
		clock:  clock,
		source: source,
		log:    zap.S().With("module", "lab.random"),
	}
}

// Rand suspends for the current random delay, then draws a number.
// A suspension cut short by ctx returns an error marked latency.ErrSuspended.
func (s *Service) Rand(ctx context.Context) (Response, error) {
	delay := latency.RandomDelay(s.clock.Now())
	if s.OnDelay != nil {
		s.OnDelay(delay)
	}

	if err := latency.Suspend(ctx, delay); err != nil {
		return Response{}, errors.Wrap(err, "rand")
	}

	return Response{Result: s.source()}, nil
}

// Register mounts GET /rand on r. The request body is ignored.
func (s *Service) Register(r labsvc.Router) {
	r.Handle(http.MethodGet, Path, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			res, err := s.Rand(c.Context())
			if err != nil {
				s.log.Warnf("Request %s: %v", c.ID(), err)
				c.ReplyError(labsvc.StatusServiceUnavailable, err)
				return
			}

			c.ReplyOK(res)
		},
	})
}
