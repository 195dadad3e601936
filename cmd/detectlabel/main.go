// Package main is the detectlabel command: run detections on images, serve them over HTTP, or
// benchmark a model.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
