// Package multiplier implements the multiplication service: POST /multiply
// replies x*y immediately.
package multiplier

import (
	"net/http"

	"github.com/cockroachdb/errors"
	labsvc "github.com/xizhibei/go-lab-services"
)

// Path is the route of the multiplication endpoint.
const Path = "/multiply"

// Request is the multiplication input. Absent fields are zero.
type Request struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// Response is the multiplication output.
type Response struct {
	Result int64 `json:"result"`
}

// Multiply returns x*y with two's complement wraparound.
func Multiply(req Request) Response {
	return Response{Result: req.X * req.Y}
}

// Register mounts POST /multiply on r.
func Register(r labsvc.Router) {
	r.Handle(http.MethodPost, Path, &labsvc.Handler{
		Method: func(c labsvc.Context) {
			var req Request
			if err := c.Bind(&req); err != nil {
				c.ReplyError(labsvc.StatusClientError, errors.Wrap(err, "invalid request"))
				return
			}

			c.ReplyOK(Multiply(req))
		},
	})
}
