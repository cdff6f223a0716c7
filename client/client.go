// Package client calls the lab services over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/xizhibei/go-lab-services/adder"
	"github.com/xizhibei/go-lab-services/compressor"
	"github.com/xizhibei/go-lab-services/httpjson"
	"github.com/xizhibei/go-lab-services/multiplier"
	"github.com/xizhibei/go-lab-services/random"
	"go.uber.org/zap"
)

const acceptEncoding = "br, gzip, deflate"

// ErrUnexpectedStatus marks replies with a status other than 200.
// Use errors.As with *StatusError for the details.
var ErrUnexpectedStatus = errors.New("[LAB] unexpected status")

// StatusError is a non-200 reply.
type StatusError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

type options struct {
	httpClient  *http.Client
	requestID   func() string
	compression bool
}

// Option configures the client.
type Option func(o *options)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRequestID sets the generator of X-Request-ID values.
func WithRequestID(fn func() string) Option {
	return func(o *options) {
		o.requestID = fn
	}
}

// WithCompression enables or disables compressed responses. Enabled by default.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compression = enabled
	}
}

// Client calls one service base URL. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	opts       options
	compressor *compressor.CompressorManager
	log        *zap.SugaredLogger
}

// New creates a client for baseURL, e.g. http://localhost:8081.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Newf("unsupported scheme %q", base.Scheme)
	}

	o := options{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:              http.ProxyFromEnvironment,
				DisableCompression: true,
			},
		},
		requestID:   uuid.NewString,
		compression: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		base:       base,
		opts:       o,
		compressor: compressor.NewCompressorManager(),
		log:        zap.S().With("module", "lab.client"),
	}, nil
}

// Add returns x+y computed by the adder service.
func (c *Client) Add(ctx context.Context, x, y int64) (int64, error) {
	var res adder.Response
	err := c.do(ctx, http.MethodPost, adder.Path, adder.Request{X: x, Y: y}, &res)
	return res.Result, err
}

// Multiply returns x*y computed by the multiplier service.
func (c *Client) Multiply(ctx context.Context, x, y int64) (int64, error) {
	var res multiplier.Response
	err := c.do(ctx, http.MethodPost, multiplier.Path, multiplier.Request{X: x, Y: y}, &res)
	return res.Result, err
}

// Rand returns a random number drawn by the random service.
func (c *Client) Rand(ctx context.Context) (int64, error) {
	var res random.Response
	err := c.do(ctx, http.MethodGet, random.Path, nil, &res)
	return res.Result, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	target := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return errors.Wrapf(err, "new request %s %s", method, path)
	}

	id := c.opts.requestID()
	req.Header.Set(httpjson.HeaderRequestID, id)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.compression {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	res, err := c.opts.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer res.Body.Close()

	data, err := c.readBody(res)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}

	c.log.Debugf("%s %s id=%s status=%d", method, path, id, res.StatusCode)

	if res.StatusCode != http.StatusOK {
		return errors.Mark(&StatusError{
			StatusCode: res.StatusCode,
			Message:    errorMessage(data),
			RequestID:  id,
		}, ErrUnexpectedStatus)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func (c *Client) readBody(res *http.Response) ([]byte, error) {
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	enc, err := compressor.ParseContentEncoding(res.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	return c.compressor.Decompress(enc, data)
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
