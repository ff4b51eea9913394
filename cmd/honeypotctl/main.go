// honeypotctl inspects and manages honeypot sessions from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/scam-honeypot/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
