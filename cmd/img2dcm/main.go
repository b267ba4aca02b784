package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mrsinham/img2dcm/cmd/img2dcm/cmd"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	// first signal cancels the run; the partial report is still printed
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx, version, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
