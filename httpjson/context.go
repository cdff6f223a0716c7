package httpjson

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	labsvc "github.com/xizhibei/go-lab-services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	// ErrEmptyBody is an error indicating the request carried no body.
	ErrEmptyBody = errors.New("[LAB] empty request body")

	// ErrTrailingData is an error indicating the body continued after the JSON value.
	ErrTrailingData = errors.New("[LAB] unexpected data after request body")
)

// HTTPContext represents the context of an HTTP request.
type HTTPContext struct {
	*labsvc.BaseContext
	w         http.ResponseWriter
	r         *http.Request
	route     string
	svc       *Server
	validator *validator.Validate
}

// NewHTTPContext creates the context for r, dispatched on route.
// Trace context carried in the request headers becomes the parent span.
func NewHTTPContext(w http.ResponseWriter, r *http.Request, route string, svc *Server) *HTTPContext {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	c := &HTTPContext{
		w:         w,
		r:         r,
		route:     route,
		svc:       svc,
		validator: svc.validator,
	}
	c.BaseContext = labsvc.NewBaseContext(ctx, c.write)
	return c
}

// ID returns the X-Request-ID of the request.
func (c *HTTPContext) ID() *labsvc.ID {
	return &labsvc.ID{Str: c.r.Header.Get(HeaderRequestID)}
}

// Method returns the route of the request, e.g. "POST /add".
func (c *HTTPContext) Method() string {
	return c.route
}

// ReplyDesc describes the caller the reply goes to.
func (c *HTTPContext) ReplyDesc() string {
	return c.route + " " + c.r.RemoteAddr
}

// Bind decodes the JSON request body into request and validates it.
// Fields absent from the body keep their zero value. A literal null counts as
// an empty body, and anything after the first JSON value is rejected.
func (c *HTTPContext) Bind(request interface{}) error {
	body := http.MaxBytesReader(c.w, c.r.Body, c.svc.cfg.MaxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	var raw json.RawMessage
	err := dec.Decode(&raw)
	if errors.Is(err, io.EOF) {
		return ErrEmptyBody
	}
	if err != nil {
		return errors.Wrap(err, "decode json")
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ErrEmptyBody
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.Wrap(ErrTrailingData, "decode json")
	}

	if err := json.Unmarshal(raw, request); err != nil {
		return errors.Wrap(err, "decode json")
	}

	if c.validator != nil {
		if err := c.validator.Struct(request); err != nil {
			return errors.Wrap(err, "validate")
		}
	}
	return nil
}

// PrometheusLabels returns the labels of the request.
func (c *HTTPContext) PrometheusLabels() prometheus.Labels {
	return prometheus.Labels{
		"method": c.route,
	}
}

func (c *HTTPContext) write(res *labsvc.Response) {
	if res.Error != nil {
		c.svc.writeJSON(c.w, c.r, res.Status, errorBody{Message: res.Error.Error()})
		return
	}
	c.svc.writeJSON(c.w, c.r, res.Status, res.Result)
}

type errorBody struct {
	Message string `json:"message"`
}
