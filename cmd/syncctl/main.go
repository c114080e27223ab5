package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"product-sync/internal/cli"
	"product-sync/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.NewBackends(config.LoadControl())).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
