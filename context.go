package labsvc

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// ID represents an identifier with a numeric value and a string value.
type ID struct {
	Num uint64 // Num is the numeric value of the identifier.
	Str string // Str is the string value of the identifier, e.g. an X-Request-ID.
}

// String returns the string representation of the ID.
// If the ID has a non-empty string representation, it returns the string representation.
// Otherwise, it returns the numeric representation of the ID as a decimal string.
func (id *ID) String() string {
	if id.Str != "" {
		return id.Str
	}
	return strconv.FormatUint(id.Num, 10)
}

// Response represents a response message.
// Result holds the response data.
// Error holds any error that occurred during the request.
// Status holds the status code of the response.
type Response struct {
	Result interface{}
	Error  error
	Status int
}

// Context represents the context of a single service request.
type Context interface {
	// ID returns the unique identifier of the request.
	ID() *ID

	// Method returns the route the request was dispatched on, e.g. "POST /add".
	Method() string

	// Context returns the underlying context.Context.
	// It is cancelled when the caller goes away or the handler timeout expires.
	Context() context.Context

	// ReplyDesc returns the description of the reply destination.
	ReplyDesc() string

	// Bind binds the request data to the given value.
	Bind(request interface{}) error

	// Reply sends a response message.
	// It returns true if the response was sent, false if a reply was already sent.
	Reply(res *Response) bool

	// ReplyOK sends a successful response message with the given data.
	ReplyOK(data interface{}) bool

	// ReplyError sends an error response message with the given status and error.
	ReplyError(status int, err error) bool

	// GetResponse returns the response message, nil before any reply.
	GetResponse() *Response

	// PrometheusLabels returns the Prometheus labels associated with the request.
	PrometheusLabels() prometheus.Labels
}

// BaseContext implements the reply bookkeeping shared by transports.
// A transport embeds it and sets BaseReply to write the response out.
type BaseContext struct {
	res       *Response           // res is the response object.
	resMu     sync.Mutex          // resMu is a mutex to synchronize access to the response object.
	replyed   atomic.Bool         // replyed is an atomic boolean flag indicating if a reply has been sent.
	BaseReply func(res *Response) // BaseReply is a function to send a reply using the response object.
	ctx       context.Context     // ctx is the underlying context.
}

// NewBaseContext returns a BaseContext bound to ctx that writes replies through reply.
func NewBaseContext(ctx context.Context, reply func(res *Response)) *BaseContext {
	return &BaseContext{
		ctx:       ctx,
		BaseReply: reply,
	}
}

// Context returns the context associated with the BaseContext.
// If no context is set, it returns the background context.
func (c *BaseContext) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Reply sends a response to the client.
// Only the first reply is delivered; later calls return false.
func (c *BaseContext) Reply(res *Response) bool {
	if !c.replyed.CompareAndSwap(false, true) {
		return false
	}

	c.setResponse(res)

	if c.BaseReply != nil {
		c.BaseReply(res)
	}

	return true
}

// ReplyOK sends a successful response with the given data.
func (c *BaseContext) ReplyOK(data interface{}) bool {
	return c.Reply(&Response{
		Status: StatusOK,
		Result: data,
	})
}

// ReplyError sends an error response with the specified status code and error.
func (c *BaseContext) ReplyError(status int, err error) bool {
	return c.Reply(&Response{
		Status: status,
		Error:  err,
	})
}

func (c *BaseContext) setResponse(res *Response) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	c.res = res
}

// GetResponse returns the response associated with the context.
func (c *BaseContext) GetResponse() *Response {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	return c.res
}

// Handler represents a service handler.
// Method is the function to be executed when handling the request.
// Timeout bounds the request context; zero falls back to the server default.
type Handler struct {
	Method  func(c Context)
	Timeout time.Duration
}

type requestContext = Context

// boundContext overrides the context.Context of a request while keeping its reply path.
type boundContext struct {
	requestContext
	ctx context.Context
}

func (c *boundContext) Context() context.Context {
	return c.ctx
}
