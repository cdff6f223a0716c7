// Package adder implements the addition service: POST /add replies x+y after a
// sinusoidal, clock-anchored delay.
package adder

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	labsvc "github.com/xizhibei/go-lab-services"
	"github.com/xizhibei/go-lab-services/latency"
	"go.uber.org/zap"
)

// Path is the route of the addition endpoint.
const Path = "/add"

// Request is the addition input. Absent fields are zero.
type Request struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// Response is the addition output.
type Response struct {
	Result int64 `json:"result"`
}

// Service adds two integers after the delay given by latency.AddDelay.
type Service struct {
	clock latency.Clock
	log   *zap.SugaredLogger

	// OnDelay, when set, observes every delay before it is applied.
	OnDelay func(d time.Duration)
}

// New returns a Service reading time from clock.
func New(clock latency.Clock) *Service {
	return &Service{
		clock: clock,
		log:   zap.S().With("module", "lab.adder"),
	}
}

// Add suspends for the current addition delay, then returns x+y with
// two's complement wraparound. A suspension cut short by ctx returns an
// error marked latency.ErrSuspended.
func (s *Service) Add(ctx context.Context, req Request) (Response, error) {
	delay := latency.AddDelay(s.clock.Now())
	if s.OnDelay != nil {
		s.OnDelay(delay)
	}

	if err := latency.Suspend(ctx, delay); err != nil {
		return Response{}, errors.Wrap(err, "add")
	}

	return Response{Result: req.X + req.Y}, nil
}

// Register mounts POST /add on r.
func (s *Service) Register(r labsvc.Router) {
	r.Handle(http.MethodPost, Path, &labsvc.Handler{
		Method: s.handle,
	})
}

func (s *Service) handle(c labsvc.Context) {
	var req Request
	if err := c.Bind(&req); err != nil {
		c.ReplyError(labsvc.StatusClientError, errors.Wrap(err, "invalid request"))
		return
	}

	res, err := s.Add(c.Context(), req)
	if err != nil {
		s.log.Warnf("Request %s: %v", c.ID(), err)
		c.ReplyError(labsvc.StatusServiceUnavailable, err)
		return
	}

	c.ReplyOK(res)
}
