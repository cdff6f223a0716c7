package labsvc

import (
	"time"

	"github.com/xizhibei/go-lab-services/telemetry"
)

type serverOptions struct {
	logResponse    bool
	name           string
	handlerTimeout time.Duration
	telemetry      telemetry.Telemetry
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(o *serverOptions)

// WithServerName is a function that returns a ServerOption to set the name of the server.
// The name is attached to metrics and the health endpoint.
func WithServerName(name string) ServerOption {
	return func(o *serverOptions) {
		o.name = name
	}
}

// WithLogResponse is a function that returns a ServerOption to enable or disable logging of response.
func WithLogResponse(logResponse bool) ServerOption {
	return func(o *serverOptions) {
		o.logResponse = logResponse
	}
}

// WithHandlerTimeout sets the timeout applied to handlers registered without one.
// Zero disables the default timeout.
func WithHandlerTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.handlerTimeout = d
	}
}

// WithTelemetry sets the telemetry used to trace and measure each call.
func WithTelemetry(tel telemetry.Telemetry) ServerOption {
	return func(o *serverOptions) {
		o.telemetry = tel
	}
}
