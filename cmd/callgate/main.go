// Package main runs the callgate HTTP gateway: it maps request paths
// onto database stored procedures through a declarative, reloadable
// route table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/callgate/callgate/internal/config"
	"github.com/callgate/callgate/internal/runtime"
)

func main() {
	configPath := flag.String("config", "config/callgate.yaml", "Path to configuration file")
	flag.Parse()

	if v := os.Getenv("CALLGATE_CONFIG"); v != "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callgate: %v\n", err)
		os.Exit(1)
	}

	app, err := runtime.NewApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callgate: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if err := app.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "callgate: shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "callgate: %v\n", runErr)
		os.Exit(1)
	}
}
