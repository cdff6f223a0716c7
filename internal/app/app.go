// Package app wires configuration, logging, telemetry, metrics, the HTTP
// server and discovery into one service process.
package app

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	labsvc "github.com/xizhibei/go-lab-services"
	"github.com/xizhibei/go-lab-services/config"
	"github.com/xizhibei/go-lab-services/discovery"
	"github.com/xizhibei/go-lab-services/httpjson"
	"github.com/xizhibei/go-lab-services/telemetry"
	"go.uber.org/zap"
)

// App is one running service process.
type App struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	tel       telemetry.Telemetry
	metrics   *Metrics
	server    *httpjson.Server
	listener  net.Listener
	registrar *discovery.Registrar
}

// New loads the configuration of svc from args, replaces the global logger,
// and binds the listen address.
func New(ctx context.Context, svc Service, args []string) (*App, error) {
	cfg, err := config.Load(svc.Name, args)
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	a := &App{
		cfg: cfg,
		log: zap.S().With("module", "lab.app", "service", svc.Name),
	}

	a.tel, err = telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		a.log.Warnf("Telemetry disabled: %v", err)
		a.tel = telemetry.NewNoop()
	}

	httpCfg := httpjson.Config{
		Addr:            cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		CompressMinSize: cfg.CompressMinSize,
	}
	if cfg.Metrics.Enabled {
		a.metrics = NewMetrics()
		httpCfg.MetricsPath = cfg.Metrics.Path
		httpCfg.Gatherer = a.metrics.Registry
	}

	a.server = httpjson.NewServer(httpCfg, validator.New(),
		labsvc.WithServerName(svc.Name),
		labsvc.WithLogResponse(cfg.LogResponse),
		labsvc.WithHandlerTimeout(cfg.HandlerTimeout),
		labsvc.WithTelemetry(a.tel),
	)

	var observe func(time.Duration)
	if a.metrics != nil {
		a.server.RegisterMetrics(a.metrics.ResponseTime, a.metrics.ErrorCount)
		observe = a.metrics.DelayObserver(svc.Name)
	}
	svc.Mount(a.server, observe)

	a.listener, err = net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = a.tel.Shutdown(ctx)
		return nil, errors.Wrapf(err, "listen %s", cfg.Addr)
	}

	if cfg.Discovery.Enabled {
		a.registrar, err = discovery.New(cfg.Discovery, svc.Name, "http://"+a.listener.Addr().String())
		if err != nil {
			a.log.Warnf("Discovery disabled: %v", err)
			a.registrar = nil
		}
	}

	return a, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Addr returns the bound listen address.
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Run serves until ctx ends or the listener fails, then shuts down gracefully
// within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(a.listener)
	}()

	if a.registrar != nil {
		go a.register(ctx)
	}

	var err error
	select {
	case <-ctx.Done():
		a.log.Infof("Shutting down")
	case err = <-serveErr:
		a.log.Errorf("Serve: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if a.registrar != nil {
		if derr := a.registrar.Deregister(shutdownCtx); derr != nil {
			a.log.Warnf("Deregister: %v", derr)
		}
	}

	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		err = errors.CombineErrors(err, errors.Wrap(serr, "shutdown"))
	}
	if terr := a.tel.Shutdown(shutdownCtx); terr != nil {
		a.log.Warnf("Telemetry shutdown: %v", terr)
	}

	return err
}

func (a *App) register(ctx context.Context) {
	if a.cfg.Discovery.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Discovery.Timeout)
		defer cancel()
	}

	if err := a.registrar.Register(ctx); err != nil {
		a.log.Warnf("Discovery registration failed, serving anyway: %v", err)
		return
	}
	a.log.Infof("Registered on %s", a.registrar.Topic())
}
