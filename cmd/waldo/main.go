package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/screenmon-io/screenmon/cmd/waldo/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewWaldoCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
