package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xizhibei/go-lab-services/internal/app"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Multiplier, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiplier: %v\n", err)
		os.Exit(2)
	}
	defer zap.L().Sync() //nolint:errcheck

	zap.S().Infof("Serving multiplier on %s", a.Addr())
	if err := a.Run(ctx); err != nil {
		zap.S().Errorf("Stopped: %v", err)
		os.Exit(1)
	}
}
