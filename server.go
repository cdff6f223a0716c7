package labsvc

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xizhibei/go-lab-services/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// ErrNoReply is an error indicating the handler returned without replying.
	ErrNoReply = errors.New("[LAB] empty reply")

	// ErrUnhandledMethod is an error indicating no handler is registered for the route.
	ErrUnhandledMethod = errors.New("[LAB] unhandled method")
)

// Server dispatches requests to registered handlers.
type Server struct {
	log        *zap.SugaredLogger  // Logger for server logs.
	handlerMap map[string]*Handler // Map of registered handlers.
	handlerMu  sync.RWMutex        // Mutex to synchronize access to handlerMap.

	cbList       []OnAfterResponseCallback // List of callbacks to be executed after each response.
	afterResPool sync.Pool                 // Pool of events for after-response processing.

	options *serverOptions
}

// NewServer creates a new Server with the provided options.
// The default name is a random uuid and telemetry is a no-op.
func NewServer(options ...ServerOption) *Server {
	o := serverOptions{
		name:        uuid.New().String(),
		logResponse: false,
	}

	for _, option := range options {
		option(&o)
	}

	if o.telemetry == nil {
		o.telemetry = telemetry.NewNoop()
	}

	return &Server{
		log:        zap.S().With("module", "lab.server"),
		handlerMap: make(map[string]*Handler),
		options:    &o,

		afterResPool: sync.Pool{
			New: func() interface{} {
				return new(AfterResponseEvent)
			},
		},
	}
}

// Name returns the server name.
func (s *Server) Name() string {
	return s.options.name
}

// Register registers a route with its corresponding handler.
// If the route is already registered, it will be overridden.
func (s *Server) Register(route string, hdl *Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	if _, ok := s.handlerMap[route]; ok {
		s.log.Warnf("Route %s already registered, will override", route)
	}

	s.handlerMap[route] = hdl
	s.log.Debugf("Route %s registered", route)
}

func (s *Server) handler(route string) (*Handler, bool) {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	hdl, ok := s.handlerMap[route]
	return hdl, ok
}

// Call runs the handler registered for c.Method() on the calling goroutine.
// The handler sees a context bounded by its timeout. Panics become 500 replies,
// and a handler that returns without replying gets ErrNoReply.
func (s *Server) Call(c Context) {
	start := time.Now()
	tel := s.options.telemetry

	ctx, span := tel.StartSpan(c.Context(), c.Method(), trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("request.id", c.ID().String()))

	defer func() {
		duration := time.Since(start)

		evt := s.afterResPool.Get().(*AfterResponseEvent)
		evt.Labels = c.PrometheusLabels()
		evt.Duration = duration
		evt.Res = c.GetResponse()

		status := 0
		var resErr error
		if evt.Res != nil {
			status = evt.Res.Status
			resErr = evt.Res.Error
		}

		tel.RecordRequest(ctx, duration, c.Method(), strconv.Itoa(status), resErr)
		span.SetAttributes(attribute.Int("response.status", status))
		if resErr != nil {
			span.RecordError(resErr)
			span.SetStatus(codes.Error, resErr.Error())
		}
		span.End()

		if s.options.logResponse {
			s.log.Infof("Response to %s [%d] (%v)", c.ReplyDesc(), status, duration.Round(time.Millisecond))
		}

		s.emitAfterResponse(evt)
	}()

	hdl, ok := s.handler(c.Method())
	if !ok {
		c.ReplyError(StatusNotFound, errors.Wrapf(ErrUnhandledMethod, "%s", c.Method()))
		return
	}

	timeout := hdl.Timeout
	if timeout == 0 {
		timeout = s.options.handlerTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.invoke(hdl, &boundContext{requestContext: c, ctx: ctx})

	// If the send is successful, it means that the method did not reply with any message.
	if c.ReplyError(StatusServerError, ErrNoReply) {
		s.log.Warnf("Method %s no reply", c.Method())
	}
}

func (s *Server) invoke(hdl *Handler, c Context) {
	defer func() {
		if i := recover(); i != nil {
			err := errors.Newf("panic in method %s %v", c.Method(), i)
			s.log.Desugar().WithOptions(zap.AddStacktrace(zapcore.ErrorLevel)).Sugar().Error(err)
			c.ReplyError(StatusServerError, err)
		}
	}()

	hdl.Method(c)
}

// AfterResponseEvent describes a finished call.
// Labels are the Prometheus labels of the request, Duration the time spent in Call
// and Res the reply that was sent.
type AfterResponseEvent struct {
	Labels   prometheus.Labels
	Duration time.Duration
	Res      *Response
}

// OnAfterResponseCallback is a function type that represents a callback function
// to be executed after a response is sent.
type OnAfterResponseCallback func(e *AfterResponseEvent)

// OnAfterResponse registers a callback function to be executed after each response is sent.
// Callbacks must be registered before serving starts.
func (s *Server) OnAfterResponse(cb OnAfterResponseCallback) {
	s.cbList = append(s.cbList, cb)
}

func (s *Server) emitAfterResponse(e *AfterResponseEvent) {
	for _, cb := range s.cbList {
		cb(e)
	}
	*e = AfterResponseEvent{}
	s.afterResPool.Put(e)
}

// RegisterMetrics records every response into responseTime, labelled by
// method, name and status, and counts failed responses into errorCount with an extra
// message label holding the status text, never the error text. Either collector may be nil.
func (s *Server) RegisterMetrics(responseTime *prometheus.HistogramVec, errorCount *prometheus.GaugeVec) {
	s.OnAfterResponse(func(e *AfterResponseEvent) {
		status := "0"
		if e.Res != nil {
			status = strconv.FormatInt(int64(e.Res.Status), 10)
		}

		labels := prometheus.Labels{
			"method": e.Labels["method"],
			"name":   s.options.name,
			"status": status,
		}

		if responseTime != nil {
			responseTime.
				With(labels).
				Observe(e.Duration.Seconds())
		}

		if e.Res != nil && e.Res.Error != nil && errorCount != nil {
			labels["message"] = http.StatusText(e.Res.Status)
			errorCount.
				With(labels).
				Inc()
		}
	})
}
