// Package httpjson serves labsvc handlers over HTTP with JSON bodies.
package httpjson

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	labsvc "github.com/xizhibei/go-lab-services"
	"github.com/xizhibei/go-lab-services/compressor"
	"go.uber.org/zap"
)

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-ID"

// Config configures the HTTP listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// CompressMinSize is the smallest body compressed when the client accepts it.
	// A negative value disables compression.
	CompressMinSize int

	// MetricsPath mounts Gatherer on GET MetricsPath when both are set.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxBodyBytes:    1 << 20,
		CompressMinSize: 1024,
	}
}

// Server represents an HTTP JSON service.
type Server struct {
	*labsvc.Server
	log        *zap.SugaredLogger
	validator  *validator.Validate
	compressor *compressor.CompressorManager
	cfg        Config

	mux        *http.ServeMux
	mounted    map[string]struct{}
	httpServer *http.Server
}

// NewServer creates an HTTP server for cfg. Handlers are added with Handle.
// GET /healthz is always mounted.
func NewServer(cfg Config, validator *validator.Validate, options ...labsvc.ServerOption) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		Server:     labsvc.NewServer(options...),
		log:        zap.S().With("module", "lab.httpjson"),
		validator:  validator,
		compressor: compressor.NewCompressorManager(),
		cfg:        cfg,
		mux:        http.NewServeMux(),
		mounted:    make(map[string]struct{}),
	}

	s.mux.HandleFunc("GET /healthz", s.healthz)
	if cfg.MetricsPath != "" && cfg.Gatherer != nil {
		s.mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handle registers hdl for method requests on path.
// Requests with another method get 405, unknown paths 404.
// Handling a route again replaces its handler.
// New routes must be added before serving starts.
func (s *Server) Handle(method, path string, hdl *labsvc.Handler) {
	route := labsvc.Route(method, path)
	s.Server.Register(route, hdl)

	if _, ok := s.mounted[route]; ok {
		return
	}
	s.mounted[route] = struct{}{}
	s.mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		s.Server.Call(NewHTTPContext(w, r, route, s))
	})
}

// Handler returns the root http.Handler, request ID middleware included.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)

		s.mux.ServeHTTP(w, r)
	})
}

// ListenAndServe listens on the configured address.
// It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Infof("Listening on %s", s.cfg.Addr)
	return ignoreClosed(s.httpServer.ListenAndServe())
}

// Serve accepts connections on l.
// It returns nil after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Infof("Listening on %s", l.Addr())
	return ignoreClosed(s.httpServer.Serve(l))
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close closes the server immediately.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type healthBody struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, healthBody{Status: "ok", Service: s.Name()})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		s.log.Errorf("Marshal response %v", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Message: err.Error()})
	}

	header := w.Header()
	header.Set("Content-Type", "application/json")

	if s.cfg.CompressMinSize >= 0 {
		header.Add("Vary", "Accept-Encoding")
		if len(data) >= s.cfg.CompressMinSize {
			data = s.encode(header, r, data)
		}
	}

	header.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Debugf("Write response %v", err)
	}
}

func (s *Server) encode(header http.Header, r *http.Request, data []byte) []byte {
	enc := compressor.Negotiate(r.Header.Get("Accept-Encoding"))
	if enc == compressor.ContentEncodingPlain {
		return data
	}

	compressed, err := s.compressor.Compress(enc, data)
	if err != nil {
		s.log.Warnf("Compress response %s %v", enc, err)
		return data
	}

	header.Set("Content-Encoding", enc.String())
	return compressed
}
